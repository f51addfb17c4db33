package services

import (
	"net/http"
	"swiftdb/tracker/auth"
	"swiftdb/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

// Tracker bundles the per-resource services behind a single router.
type Tracker struct {
	user        UserService
	partner     PartnerService
	workPackage WorkPackageService
	task        TaskService
	deliverable DeliverableService
	access      AccessService

	db *gorm.DB
}

func NewTracker(db *gorm.DB, session *auth.SessionProvider) *Tracker {
	return &Tracker{
		user:        UserService{db: db, session: session},
		partner:     PartnerService{db: db, session: session},
		workPackage: WorkPackageService{db: db, session: session},
		task:        TaskService{db: db, session: session},
		deliverable: DeliverableService{db: db, session: session},
		access:      AccessService{db: db, session: session},
		db:          db,
	}
}

func (t *Tracker) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)

	r.Mount("/user", t.user.Routes())
	r.Mount("/partner", t.partner.Routes())
	r.Mount("/workpackage", t.workPackage.Routes())
	r.Mount("/task", t.task.Routes())
	r.Mount("/deliverable", t.deliverable.Routes())
	r.Mount("/access", t.access.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sqlDb, err := t.db.DB()
		if err != nil || sqlDb.Ping() != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		utils.WriteSuccess(w)
	})

	return r
}
