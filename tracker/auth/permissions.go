package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"swiftdb/tracker/schema"

	"gorm.io/gorm"
)

// Roles are derived per request from the user's association rows, never stored
// on the user itself.
type Roles struct {
	Admin  bool
	Reader bool

	// WorkPackages and Partners are the user's raw grant sets. Partners still
	// contains sentinel grants here.
	WorkPackages []string
	Partners     []string
}

func UserRoles(username string, db *gorm.DB) (Roles, error) {
	wps, err := schema.GetUserWorkPackages(username, db)
	if err != nil {
		return Roles{}, err
	}

	partners, err := schema.GetUserPartners(username, db)
	if err != nil {
		return Roles{}, err
	}

	return Roles{
		Admin:        slices.Contains(partners, schema.AdminPartner),
		Reader:       slices.Contains(partners, schema.ViewAllPartner),
		WorkPackages: wps,
		Partners:     partners,
	}, nil
}

func (r *Roles) CanEditWorkPackage(code string) bool {
	return r.Admin || slices.Contains(r.WorkPackages, code)
}

// CanEditAssignment reports whether the user may edit a task or deliverable
// owned by the given partner.
func (r *Roles) CanEditAssignment(partner string) bool {
	return r.Admin || slices.Contains(r.Partners, partner)
}

func IsAdmin(username string, db *gorm.DB) (bool, error) {
	var grant schema.UserPartner
	result := db.Limit(1).Find(&grant, "username = ? and partner = ?", username, schema.AdminPartner)
	if result.Error != nil {
		slog.Error("sql error checking admin grant", "username", username, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return result.RowsAffected != 0, nil
}

func AdminOnly(db *gorm.DB) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			user, err := UserFromContext(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			isAdmin, err := IsAdmin(user.Username, db)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			if !isAdmin {
				http.Error(w, fmt.Sprintf("user %v is not an admin", user.Username), http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}
