package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"swiftdb/tracker/auth"
	"swiftdb/tracker/schema"
	"swiftdb/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserService struct {
	db      *gorm.DB
	session *auth.SessionProvider
}

func (s *UserService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/login", s.Login)

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)

		r.Get("/info", s.Info)
		r.Post("/change-password", s.ChangePassword)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Post("/create", s.CreateUser)
		r.Get("/list", s.List)
		r.Delete("/{user_id}", s.DeleteUser)
	})

	return r
}

type loginResponse struct {
	UserId      uuid.UUID `json:"user_id"`
	AccessToken string    `json:"access_token"`
}

func (s *UserService) Login(w http.ResponseWriter, r *http.Request) {
	username, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
		return
	}

	login, err := s.session.Login(username, password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, auth.ErrUnknownUsername):
			responseCode = http.StatusNotFound
		case errors.Is(err, auth.ErrInvalidCredentials):
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("login failed: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, loginResponse{UserId: login.UserId, AccessToken: login.AccessToken})
}

type UserInfo struct {
	Id       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Admin    bool      `json:"admin"`
	Reader   bool      `json:"reader"`
	Usertype string    `json:"usertype"`

	// WorkPackages and Partners list the user's edit scope; sentinel grants
	// are stripped from Partners as they are not real organizations.
	WorkPackages []string `json:"work_packages"`
	Partners     []string `json:"partners"`
}

func userInfoFor(username string, userId uuid.UUID, db *gorm.DB) (UserInfo, error) {
	roles, err := auth.UserRoles(username, db)
	if err != nil {
		return UserInfo{}, err
	}

	partners := schema.StripSentinels(roles.Partners)

	usertype := "none"
	switch {
	case roles.Admin:
		usertype = "admin"
	case len(roles.WorkPackages) > 0 && len(partners) > 0:
		usertype = "both"
	case len(roles.WorkPackages) > 0:
		usertype = "WPleader"
	case len(partners) > 0:
		usertype = "Partnerleader"
	}

	return UserInfo{
		Id:           userId,
		Username:     username,
		Admin:        roles.Admin,
		Reader:       roles.Reader,
		Usertype:     usertype,
		WorkPackages: roles.WorkPackages,
		Partners:     partners,
	}, nil
}

func (s *UserService) Info(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info, err := userInfoFor(user.Username, user.Id, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting user info: %v", err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, info)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserResponse struct {
	UserId uuid.UUID `json:"user_id"`
}

func (s *UserService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var params createUserRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Username == "" || schema.IsSentinelPartner(params.Username) {
		http.Error(w, fmt.Sprintf("invalid username '%v'", params.Username), http.StatusUnprocessableEntity)
		return
	}

	userId, err := s.session.CreateUser(params.Username, params.Password)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, auth.ErrUsernameAlreadyInUse) {
			responseCode = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("error creating user: %v", err), responseCode)
		return
	}

	utils.WriteJsonResponse(w, createUserResponse{UserId: userId})
}

func (s *UserService) List(w http.ResponseWriter, r *http.Request) {
	var users []schema.User
	result := s.db.Order("username asc").Find(&users)
	if result.Error != nil {
		slog.Error("sql error listing users", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing users: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		info, err := userInfoFor(u.Username, u.Id, s.db)
		if err != nil {
			http.Error(w, fmt.Sprintf("error listing users: %v", err), http.StatusInternalServerError)
			return
		}
		infos = append(infos, info)
	}
	utils.WriteJsonResponse(w, infos)
}

// DeleteUser removes the user's association rows before the user itself so
// that no orphan grants remain.
func (s *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		user, err := schema.GetUser(userId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrUserNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		result := txn.Delete(&schema.UserWorkPackage{}, "username = ?", user.Username)
		if result.Error != nil {
			slog.Error("sql error deleting user work package grants", "username", user.Username, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.UserPartner{}, "username = ?", user.Username)
		if result.Error != nil {
			slog.Error("sql error deleting user partner grants", "username", user.Username, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result = txn.Delete(&schema.User{Id: userId})
		if result.Error != nil {
			slog.Error("sql error deleting user", "user_id", userId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting user %v: %v", userId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type changePasswordRequest struct {
	Current string `json:"current"`
	New     string `json:"new"`
}

func (s *UserService) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params changePasswordRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.session.ChangePassword(user.Id, params.Current, params.New)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, auth.ErrInvalidCredentials) {
			responseCode = http.StatusUnauthorized
		}
		http.Error(w, fmt.Sprintf("error changing password: %v", err), responseCode)
		return
	}

	utils.WriteSuccess(w)
}
