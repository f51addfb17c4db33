package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"swiftdb/tracker/archive"
	"swiftdb/tracker/auth"
	"swiftdb/tracker/schema"
	"swiftdb/utils"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WorkPackageService struct {
	db      *gorm.DB
	session *auth.SessionProvider
}

func (s *WorkPackageService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)

		r.Get("/assigned", s.Assigned)
		r.Get("/snapshot", s.Snapshot)
		r.Get("/{workpackage_id}/summary", s.Summary)
		r.Post("/{workpackage_id}/report", s.Report)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Get("/list", s.List)
		r.Post("/create", s.Create)
		r.Post("/{workpackage_id}", s.Update)
		r.Delete("/{workpackage_id}", s.Delete)
	})

	return r
}

type workPackageInfo struct {
	Id   uuid.UUID `json:"id"`
	Code string    `json:"code"`
	Name string    `json:"name"`

	Status          string `json:"status"`
	Issues          string `json:"issues"`
	NextDeliverable string `json:"next_deliverable"`
	PreviousReport  string `json:"previous_report"`

	DateEdited time.Time `json:"date_edited"`
}

func toWorkPackageInfo(wp schema.WorkPackage) workPackageInfo {
	return workPackageInfo{
		Id:              wp.Id,
		Code:            wp.Code,
		Name:            wp.Name,
		Status:          wp.Status,
		Issues:          wp.Issues,
		NextDeliverable: wp.NextDeliverable,
		PreviousReport:  wp.PreviousReport,
		DateEdited:      wp.DateEdited,
	}
}

func listWorkPackages(db *gorm.DB, codes []string) ([]workPackageInfo, error) {
	query := db.Order("code asc")
	if codes != nil {
		query = query.Where("code in ?", codes)
	}

	var workPackages []schema.WorkPackage
	if result := query.Find(&workPackages); result.Error != nil {
		slog.Error("sql error listing work packages", "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	infos := make([]workPackageInfo, 0, len(workPackages))
	for _, wp := range workPackages {
		infos = append(infos, toWorkPackageInfo(wp))
	}
	return infos, nil
}

func (s *WorkPackageService) List(w http.ResponseWriter, r *http.Request) {
	infos, err := listWorkPackages(s.db, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing work packages: %v", err), GetResponseCode(err))
		return
	}
	utils.WriteJsonResponse(w, infos)
}

// Assigned returns the work packages the caller may submit reports for.
// Admins and readers see all of them, leaders only their granted codes.
func (s *WorkPackageService) Assigned(w http.ResponseWriter, r *http.Request) {
	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	roles, err := auth.UserRoles(user.Username, s.db)
	if err != nil {
		http.Error(w, fmt.Sprintf("error getting user roles: %v", err), http.StatusInternalServerError)
		return
	}

	codes := roles.WorkPackages
	if roles.Admin || roles.Reader {
		codes = nil
	} else if len(codes) == 0 {
		utils.WriteJsonResponse(w, []workPackageInfo{})
		return
	}

	infos, err := listWorkPackages(s.db, codes)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing work packages: %v", err), GetResponseCode(err))
		return
	}
	utils.WriteJsonResponse(w, infos)
}

type createWorkPackageRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`

	Status          string `json:"status"`
	Issues          string `json:"issues"`
	NextDeliverable string `json:"next_deliverable"`
}

type createWorkPackageResponse struct {
	WorkPackageId uuid.UUID `json:"workpackage_id"`
}

func (s *WorkPackageService) Create(w http.ResponseWriter, r *http.Request) {
	var params createWorkPackageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Code == "" || params.Name == "" {
		http.Error(w, "work package code and name are required", http.StatusUnprocessableEntity)
		return
	}

	wp := schema.WorkPackage{
		Id:              uuid.New(),
		Code:            params.Code,
		Name:            params.Name,
		Status:          params.Status,
		Issues:          params.Issues,
		NextDeliverable: params.NextDeliverable,
		DateEdited:      time.Now().UTC(),
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.WorkPackage
		result := txn.Limit(1).Find(&existing, "code = ?", params.Code)
		if result.Error != nil {
			slog.Error("sql error checking for existing work package", "code", params.Code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected > 0 {
			return CodedError(fmt.Errorf("work package '%v' already exists", params.Code), http.StatusConflict)
		}

		if result := txn.Create(&wp); result.Error != nil {
			slog.Error("sql error creating work package", "code", params.Code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating work package: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createWorkPackageResponse{WorkPackageId: wp.Id})
}

type updateWorkPackageRequest struct {
	Name string `json:"name"`

	Status          string `json:"status"`
	Issues          string `json:"issues"`
	NextDeliverable string `json:"next_deliverable"`
}

// Update is the admin edit: it can rename the work package and goes through
// the archive engine for the report fields like any other edit.
func (s *WorkPackageService) Update(w http.ResponseWriter, r *http.Request) {
	workPackageId, err := utils.URLParamUUID(r, "workpackage_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateWorkPackageRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		wp, err := schema.GetWorkPackage(workPackageId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrWorkPackageNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.Name != "" {
			wp.Name = params.Name
		}

		edit := archive.WorkPackageEdit{
			Status:          params.Status,
			Issues:          params.Issues,
			NextDeliverable: params.NextDeliverable,
		}
		if err := archive.UpdateWorkPackage(txn, &wp, edit, time.Now().UTC()); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating work package %v: %v", workPackageId, err), GetResponseCode(err))
		return
	}

	entityEdits.WithLabelValues("work_package").Inc()
	utils.WriteSuccess(w)
}

type reportRequest struct {
	Status          string `json:"status"`
	Issues          string `json:"issues"`
	NextDeliverable string `json:"next_deliverable"`
}

// Report is the leader edit path: only the archived field subset can change.
func (s *WorkPackageService) Report(w http.ResponseWriter, r *http.Request) {
	workPackageId, err := utils.URLParamUUID(r, "workpackage_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params reportRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		wp, err := schema.GetWorkPackage(workPackageId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrWorkPackageNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		roles, err := auth.UserRoles(user.Username, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		if !roles.CanEditWorkPackage(wp.Code) {
			accessDenied.Inc()
			return CodedError(
				fmt.Errorf("user '%v' cannot report on work package '%v'", user.Username, wp.Code),
				http.StatusForbidden,
			)
		}

		edit := archive.WorkPackageEdit{
			Status:          params.Status,
			Issues:          params.Issues,
			NextDeliverable: params.NextDeliverable,
		}
		if err := archive.UpdateWorkPackage(txn, &wp, edit, time.Now().UTC()); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error reporting on work package %v: %v", workPackageId, err), GetResponseCode(err))
		return
	}

	entityEdits.WithLabelValues("work_package").Inc()
	utils.WriteSuccess(w)
}

func (s *WorkPackageService) Delete(w http.ResponseWriter, r *http.Request) {
	workPackageId, err := utils.URLParamUUID(r, "workpackage_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		wp, err := schema.GetWorkPackage(workPackageId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrWorkPackageNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		for _, dependent := range []struct {
			model  interface{}
			column string
			kind   string
		}{
			{&schema.Task{}, "work_package", "tasks"},
			{&schema.Deliverable{}, "work_package", "deliverables"},
			{&schema.UserWorkPackage{}, "work_package", "access grants"},
		} {
			var count int64
			result := txn.Model(dependent.model).Where(dependent.column+" = ?", wp.Code).Count(&count)
			if result.Error != nil {
				slog.Error("sql error counting work package dependents", "code", wp.Code, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if count > 0 {
				return CodedError(
					fmt.Errorf("work package '%v' still has %d %v", wp.Code, count, dependent.kind),
					http.StatusConflict,
				)
			}
		}

		if result := txn.Delete(&schema.WorkPackage{Id: workPackageId}); result.Error != nil {
			slog.Error("sql error deleting work package", "workpackage_id", workPackageId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting work package %v: %v", workPackageId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

type workPackageSummary struct {
	WorkPackage  workPackageInfo  `json:"work_package"`
	Tasks        []assignmentInfo `json:"tasks"`
	Deliverables []assignmentInfo `json:"deliverables"`
}

// Summary returns the work package together with every task and deliverable
// filed under its code.
func (s *WorkPackageService) Summary(w http.ResponseWriter, r *http.Request) {
	workPackageId, err := utils.URLParamUUID(r, "workpackage_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wp, err := schema.GetWorkPackage(workPackageId, s.db)
	if err != nil {
		responseCode := http.StatusInternalServerError
		if errors.Is(err, schema.ErrWorkPackageNotFound) {
			responseCode = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("error getting work package %v: %v", workPackageId, err), responseCode)
		return
	}

	var tasks []schema.Task
	if result := s.db.Order("code asc").Find(&tasks, "work_package = ?", wp.Code); result.Error != nil {
		slog.Error("sql error listing tasks for work package", "code", wp.Code, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing tasks: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	var deliverables []schema.Deliverable
	if result := s.db.Order("code asc").Find(&deliverables, "work_package = ?", wp.Code); result.Error != nil {
		slog.Error("sql error listing deliverables for work package", "code", wp.Code, "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing deliverables: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	summary := workPackageSummary{
		WorkPackage:  toWorkPackageInfo(wp),
		Tasks:        make([]assignmentInfo, 0, len(tasks)),
		Deliverables: make([]assignmentInfo, 0, len(deliverables)),
	}
	for _, t := range tasks {
		summary.Tasks = append(summary.Tasks, taskInfo(t))
	}
	for _, d := range deliverables {
		summary.Deliverables = append(summary.Deliverables, deliverableInfo(d))
	}
	utils.WriteJsonResponse(w, summary)
}

type workPackageSnapshot struct {
	Code string `json:"code"`
	Name string `json:"name"`

	Status          string `json:"status"`
	Issues          string `json:"issues"`
	NextDeliverable string `json:"next_deliverable"`

	DateEdited time.Time `json:"date_edited"`
}

// Snapshot reconstructs the state of every work package as of ?date= using
// the archive row whose edit date is closest to the target. Codes with no
// archive rows fall back to their live values.
func (s *WorkPackageService) Snapshot(w http.ResponseWriter, r *http.Request) {
	target, err := dateQueryParam(r, "date")
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var workPackages []schema.WorkPackage
	if result := s.db.Order("code asc").Find(&workPackages); result.Error != nil {
		slog.Error("sql error listing work packages for snapshot", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing work packages: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	snapshots := make([]workPackageSnapshot, 0, len(workPackages))
	for _, wp := range workPackages {
		snapshot := workPackageSnapshot{
			Code:            wp.Code,
			Name:            wp.Name,
			Status:          wp.Status,
			Issues:          wp.Issues,
			NextDeliverable: wp.NextDeliverable,
			DateEdited:      wp.DateEdited,
		}

		archived, err := archive.ClosestWorkPackage(s.db, wp.Code, target)
		if err == nil {
			snapshot.Status = archived.Status
			snapshot.Issues = archived.Issues
			snapshot.NextDeliverable = archived.NextDeliverable
			snapshot.DateEdited = archived.DateEdited
		} else if !errors.Is(err, archive.ErrNoArchive) {
			http.Error(w, fmt.Sprintf("error looking up archive for '%v': %v", wp.Code, err), http.StatusInternalServerError)
			return
		}

		snapshots = append(snapshots, snapshot)
	}

	snapshotLookups.WithLabelValues("work_package").Inc()
	utils.WriteJsonResponse(w, snapshots)
}
