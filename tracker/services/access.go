package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"swiftdb/tracker/auth"
	"swiftdb/tracker/schema"
	"swiftdb/utils"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

type AccessService struct {
	db      *gorm.DB
	session *auth.SessionProvider
}

func (s *AccessService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Get("/{user_id}", s.Get)
		r.Post("/{user_id}", s.Set)
	})

	return r
}

// accessGrants lists the raw grant rows, sentinels included, since this is
// the admin surface for managing roles.
type accessGrants struct {
	Username     string   `json:"username"`
	WorkPackages []string `json:"work_packages"`
	Partners     []string `json:"partners"`
}

func (s *AccessService) Get(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := schema.GetUser(userId, s.db)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, schema.ErrUserNotFound) {
			responseCode = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("error getting user %v: %v", userId, err), responseCode)
		return
	}

	workPackages, err := schema.GetUserWorkPackages(user.Username, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting access for user %v: %v", userId, err), http.StatusInternalServerError)
		return
	}

	partners, err := schema.GetUserPartners(user.Username, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting access for user %v: %v", userId, err), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, accessGrants{
		Username:     user.Username,
		WorkPackages: workPackages,
		Partners:     partners,
	})
}

type setAccessRequest struct {
	WorkPackages []string `json:"work_packages"`
	Partners     []string `json:"partners"`
}

// Set replaces the user's grants with the given sets: grants present in the
// request but not in the db are added, grants in the db but not in the
// request are removed, and grants in both are left alone.
func (s *AccessService) Set(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParamUUID(r, "user_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params setAccessRequest
	if !utils.ParseRequestBody(w, r, &params) {
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

		for _, code := range params.WorkPackages {
			if err := checkWorkPackageCodeExists(txn, code); err != nil {
				return err
			}
		}
		for _, partner := range params.Partners {
			// Sentinel grants are legal here: they are how admin and
			// reader roles are assigned.
			if schema.IsSentinelPartner(partner) {
				continue
			}
			if err := checkPartnerNameExists(txn, partner); err != nil {
				return err
			}
		}

		currentWorkPackages, err := schema.GetUserWorkPackages(user.Username, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		currentPartners, err := schema.GetUserPartners(user.Username, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := reconcileGrants(txn, currentWorkPackages, params.WorkPackages,
			func(code string) interface{} {
				return &schema.UserWorkPackage{Username: user.Username, WorkPackage: code}
			},
			func(code string) *gorm.DB {
				return txn.Delete(&schema.UserWorkPackage{}, "username = ? AND work_package = ?", user.Username, code)
			},
		); err != nil {
			return err
		}

		return reconcileGrants(txn, currentPartners, params.Partners,
			func(partner string) interface{} {
				return &schema.UserPartner{Username: user.Username, Partner: partner}
			},
			func(partner string) *gorm.DB {
				return txn.Delete(&schema.UserPartner{}, "username = ? AND partner = ?", user.Username, partner)
			},
		)
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error setting access for user %v: %v", userId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func reconcileGrants(txn *gorm.DB, current, desired []string,
	newRow func(string) interface{}, deleteRow func(string) *gorm.DB) error {

	// The desired set may repeat a value; creating the grant row twice would
	// violate the composite primary key.
	added := make(map[string]bool, len(desired))
	for _, value := range desired {
		if added[value] || slices.Contains(current, value) {
			continue
		}
		added[value] = true
		if result := txn.Create(newRow(value)); result.Error != nil {
			slog.Error("sql error adding access grant", "value", value, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	for _, value := range current {
		if slices.Contains(desired, value) {
			continue
		}
		if result := deleteRow(value); result.Error != nil {
			slog.Error("sql error removing access grant", "value", value, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	return nil
}
