package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"swiftdb/tracker/schema"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUnknownUsername      = errors.New("no user found for given username")
	ErrInvalidCredentials   = errors.New("invalid login credentials")
	ErrGeneratingJwt        = errors.New("error generating jwt")
	ErrUsernameAlreadyInUse = errors.New("username is already in use")
)

type LoginResult struct {
	UserId      uuid.UUID
	AccessToken string
}

// SessionProvider owns password verification and jwt session tokens. There is
// no external identity provider: users exist only in the users table.
type SessionProvider struct {
	jwtManager *JwtManager
	db         *gorm.DB
	auditLog   AuditLogger
	tokenExp   time.Duration
}

type SessionProviderArgs struct {
	Secret        []byte
	AdminUsername string
	AdminPassword string
	TokenExpiry   time.Duration
}

func NewSessionProvider(db *gorm.DB, auditLog AuditLogger, args SessionProviderArgs) (*SessionProvider, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(args.AdminPassword), 10)
	if err != nil {
		return nil, fmt.Errorf("error encrypting admin password: %w", err)
	}

	if err := seedAccessRecords(db, args.AdminUsername, hashedPwd); err != nil {
		return nil, fmt.Errorf("error seeding initial access records: %w", err)
	}

	exp := args.TokenExpiry
	if exp == 0 {
		exp = 15 * time.Minute
	}

	return &SessionProvider{
		jwtManager: NewJwtManager(args.Secret),
		db:         db,
		auditLog:   auditLog.withDb(db),
		tokenExp:   exp,
	}, nil
}

// seedAccessRecords idempotently creates the two sentinel partners, the
// initial admin user, and the grant that makes that user an admin.
func seedAccessRecords(db *gorm.DB, adminUsername string, adminPassword []byte) error {
	return db.Transaction(func(txn *gorm.DB) error {
		for _, sentinel := range []string{schema.AdminPartner, schema.ViewAllPartner} {
			var existing schema.Partner
			result := txn.Limit(1).Find(&existing, "name = ?", sentinel)
			if result.Error != nil {
				slog.Error("sql error checking for sentinel partner", "partner", sentinel, "error", result.Error)
				return schema.ErrDbAccessFailed
			}
			if result.RowsAffected == 0 {
				result = txn.Create(&schema.Partner{Id: uuid.New(), Name: sentinel})
				if result.Error != nil {
					slog.Error("sql error creating sentinel partner", "partner", sentinel, "error", result.Error)
					return schema.ErrDbAccessFailed
				}
			}
		}

		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "username = ?", adminUsername)
		if result.Error != nil {
			slog.Error("sql error checking if admin has already been added", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			admin := schema.User{Id: uuid.New(), Username: adminUsername, Password: adminPassword}
			if result := txn.Create(&admin); result.Error != nil {
				slog.Error("sql error creating initial admin user", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		var existingGrant schema.UserPartner
		result = txn.Limit(1).Find(&existingGrant, "username = ? and partner = ?", adminUsername, schema.AdminPartner)
		if result.Error != nil {
			slog.Error("sql error checking for admin grant", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected == 0 {
			grant := schema.UserPartner{Username: adminUsername, Partner: schema.AdminPartner}
			if result := txn.Create(&grant); result.Error != nil {
				slog.Error("sql error creating admin grant", "error", result.Error)
				return schema.ErrDbAccessFailed
			}
		}

		return nil
	})
}

func (auth *SessionProvider) addUserToContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			userId, err := ValueFromContext(r, userIdKey)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			userUUID, err := uuid.Parse(userId)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid user uuid '%v': %v", userId, err), http.StatusUnauthorized)
				return
			}

			user, err := schema.GetUser(userUUID, auth.db)
			if err != nil {
				if errors.Is(err, schema.ErrUserNotFound) {
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
				http.Error(w, fmt.Sprintf("unable to find user %v: %v", userId, err), http.StatusInternalServerError)
				return
			}

			reqCtx := context.WithValue(r.Context(), userRequestContextKey, user)
			next.ServeHTTP(w, r.WithContext(reqCtx))
		}

		return http.HandlerFunc(handler)
	}
}

func (auth *SessionProvider) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{auth.jwtManager.Verifier(), auth.jwtManager.Authenticator(), auth.addUserToContext(), auth.auditLog.Middleware}
}

func (auth *SessionProvider) Login(username, password string) (LoginResult, error) {
	user, err := schema.GetUserByUsername(username, auth.db)
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return LoginResult{}, ErrUnknownUsername
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := auth.jwtManager.CreateUserJwt(user.Id, auth.tokenExp)
	if err != nil {
		return LoginResult{}, ErrGeneratingJwt
	}

	return LoginResult{UserId: user.Id, AccessToken: token}, nil
}

func (auth *SessionProvider) CreateUser(username, password string) (uuid.UUID, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("error encrypting password: %w", err)
	}

	newUser := schema.User{Id: uuid.New(), Username: username, Password: hashedPwd}

	err = auth.db.Transaction(func(txn *gorm.DB) error {
		var existingUser schema.User
		result := txn.Limit(1).Find(&existingUser, "username = ?", username)
		if result.Error != nil {
			slog.Error("sql error checking for existing username", "error", result.Error)
			return schema.ErrDbAccessFailed
		}
		if result.RowsAffected != 0 {
			return ErrUsernameAlreadyInUse
		}

		result = txn.Create(&newUser)
		if result.Error != nil {
			slog.Error("sql error creating new user entry", "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return nil
	})

	if err != nil {
		return uuid.UUID{}, fmt.Errorf("error creating new user: %w", err)
	}

	return newUser.Id, nil
}

func (auth *SessionProvider) ChangePassword(userId uuid.UUID, current, new string) error {
	user, err := schema.GetUser(userId, auth.db)
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(current)); err != nil {
		return ErrInvalidCredentials
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(new), 10)
	if err != nil {
		return fmt.Errorf("error encrypting password: %w", err)
	}

	result := auth.db.Model(&schema.User{Id: userId}).Update("password", hashedPwd)
	if result.Error != nil {
		slog.Error("sql error updating user password", "user_id", userId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	return nil
}
