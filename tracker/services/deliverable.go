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

type DeliverableService struct {
	db      *gorm.DB
	session *auth.SessionProvider
}

func (s *DeliverableService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)

		r.Get("/assigned", s.Assigned)
		r.Get("/visible", s.Visible)
		r.Get("/snapshot", s.Snapshot)
		r.Post("/{deliverable_id}/report", s.Report)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Get("/list", s.List)
		r.Post("/create", s.Create)
		r.Post("/{deliverable_id}", s.Update)
		r.Delete("/{deliverable_id}", s.Delete)
	})

	return r
}

func listDeliverables(db *gorm.DB, column string, values []string) ([]assignmentInfo, error) {
	query := db.Order("code asc")
	if values != nil {
		query = query.Where(column+" in ?", values)
	}

	var deliverables []schema.Deliverable
	if result := query.Find(&deliverables); result.Error != nil {
		slog.Error("sql error listing deliverables", "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	infos := make([]assignmentInfo, 0, len(deliverables))
	for _, d := range deliverables {
		infos = append(infos, deliverableInfo(d))
	}
	return infos, nil
}

func (s *DeliverableService) List(w http.ResponseWriter, r *http.Request) {
	infos, err := listDeliverables(s.db, "", nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing deliverables: %v", err), GetResponseCode(err))
		return
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *DeliverableService) Assigned(w http.ResponseWriter, r *http.Request) {
	s.listForCaller(w, r, "partner", func(roles auth.Roles) []string { return roles.Partners })
}

func (s *DeliverableService) Visible(w http.ResponseWriter, r *http.Request) {
	s.listForCaller(w, r, "work_package", func(roles auth.Roles) []string { return roles.WorkPackages })
}

func (s *DeliverableService) listForCaller(w http.ResponseWriter, r *http.Request, column string, scope func(auth.Roles) []string) {
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

	values := schema.StripSentinels(scope(roles))
	if roles.Admin || roles.Reader {
		values = nil
	} else if len(values) == 0 {
		utils.WriteJsonResponse(w, []assignmentInfo{})
		return
	}

	infos, err := listDeliverables(s.db, column, values)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing deliverables: %v", err), GetResponseCode(err))
		return
	}
	utils.WriteJsonResponse(w, infos)
}

func (s *DeliverableService) Create(w http.ResponseWriter, r *http.Request) {
	var params createAssignmentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Code == "" || params.Description == "" {
		http.Error(w, "deliverable code and description are required", http.StatusUnprocessableEntity)
		return
	}

	monthDue, err := parseDateField(params.MonthDue, "month_due")
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	deliverable := schema.Deliverable{
		Id:                  uuid.New(),
		Code:                params.Code,
		WorkPackage:         params.WorkPackage,
		Partner:             params.Partner,
		Description:         params.Description,
		PersonResponsible:   params.PersonResponsible,
		MonthDue:            monthDue,
		Progress:            params.Progress,
		Percent:             params.Percent,
		Papers:              params.Papers,
		PaperSubmissionDate: params.PaperSubmissionDate,
		DateEdited:          time.Now().UTC(),
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if err := checkAssignmentRefs(txn, params.WorkPackage, params.Partner, params.Percent); err != nil {
			return err
		}

		var existing schema.Deliverable
		result := txn.Limit(1).Find(&existing, "code = ?", params.Code)
		if result.Error != nil {
			slog.Error("sql error checking for existing deliverable", "code", params.Code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected > 0 {
			return CodedError(fmt.Errorf("deliverable '%v' already exists", params.Code), http.StatusConflict)
		}

		if result := txn.Create(&deliverable); result.Error != nil {
			slog.Error("sql error creating deliverable", "code", params.Code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating deliverable: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createAssignmentResponse{Id: deliverable.Id})
}

func (s *DeliverableService) Update(w http.ResponseWriter, r *http.Request) {
	deliverableId, err := utils.URLParamUUID(r, "deliverable_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateAssignmentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		deliverable, err := schema.GetDeliverable(deliverableId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrDeliverableNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.WorkPackage != "" {
			deliverable.WorkPackage = params.WorkPackage
		}
		if params.Partner != "" {
			deliverable.Partner = params.Partner
		}
		if err := checkAssignmentRefs(txn, deliverable.WorkPackage, deliverable.Partner, params.Percent); err != nil {
			return err
		}

		if params.Description != "" {
			deliverable.Description = params.Description
		}
		if params.MonthDue != "" {
			monthDue, err := parseDateField(params.MonthDue, "month_due")
			if err != nil {
				return err
			}
			deliverable.MonthDue = monthDue
		}

		edit := archive.ProgressEdit{
			PersonResponsible:   params.PersonResponsible,
			Progress:            params.Progress,
			Percent:             params.Percent,
			Papers:              params.Papers,
			PaperSubmissionDate: params.PaperSubmissionDate,
		}
		if err := archive.UpdateDeliverable(txn, &deliverable, edit, time.Now().UTC()); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating deliverable %v: %v", deliverableId, err), GetResponseCode(err))
		return
	}

	entityEdits.WithLabelValues("deliverable").Inc()
	utils.WriteSuccess(w)
}

func (s *DeliverableService) Report(w http.ResponseWriter, r *http.Request) {
	deliverableId, err := utils.URLParamUUID(r, "deliverable_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params progressReportRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := checkPercentRange(params.Percent); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		deliverable, err := schema.GetDeliverable(deliverableId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrDeliverableNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		roles, err := auth.UserRoles(user.Username, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		if !roles.CanEditAssignment(deliverable.Partner) {
			accessDenied.Inc()
			return CodedError(
				fmt.Errorf("user '%v' cannot report on deliverable '%v'", user.Username, deliverable.Code),
				http.StatusForbidden,
			)
		}

		edit := archive.ProgressEdit{
			PersonResponsible:   params.PersonResponsible,
			Progress:            params.Progress,
			Percent:             params.Percent,
			Papers:              params.Papers,
			PaperSubmissionDate: params.PaperSubmissionDate,
		}
		if err := archive.UpdateDeliverable(txn, &deliverable, edit, time.Now().UTC()); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error reporting on deliverable %v: %v", deliverableId, err), GetResponseCode(err))
		return
	}

	entityEdits.WithLabelValues("deliverable").Inc()
	utils.WriteSuccess(w)
}

func (s *DeliverableService) Delete(w http.ResponseWriter, r *http.Request) {
	deliverableId, err := utils.URLParamUUID(r, "deliverable_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		_, err := schema.GetDeliverable(deliverableId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrDeliverableNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if result := txn.Delete(&schema.Deliverable{Id: deliverableId}); result.Error != nil {
			slog.Error("sql error deleting deliverable", "deliverable_id", deliverableId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting deliverable %v: %v", deliverableId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *DeliverableService) Snapshot(w http.ResponseWriter, r *http.Request) {
	target, err := dateQueryParam(r, "date")
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var deliverables []schema.Deliverable
	if result := s.db.Order("code asc").Find(&deliverables); result.Error != nil {
		slog.Error("sql error listing deliverables for snapshot", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing deliverables: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	snapshots := make([]assignmentSnapshot, 0, len(deliverables))
	for _, d := range deliverables {
		snapshot := assignmentSnapshot{
			Code:                d.Code,
			WorkPackage:         d.WorkPackage,
			Partner:             d.Partner,
			Description:         d.Description,
			PersonResponsible:   d.PersonResponsible,
			MonthDue:            d.MonthDue,
			Progress:            d.Progress,
			Percent:             d.Percent,
			Papers:              d.Papers,
			PaperSubmissionDate: d.PaperSubmissionDate,
			DateEdited:          d.DateEdited,
		}

		archived, err := archive.ClosestDeliverable(s.db, d.Code, target)
		if err == nil {
			snapshot.PersonResponsible = archived.PersonResponsible
			snapshot.Progress = archived.Progress
			snapshot.Percent = archived.Percent
			snapshot.Papers = archived.Papers
			snapshot.PaperSubmissionDate = archived.PaperSubmissionDate
			snapshot.DateEdited = archived.DateEdited
		} else if !errors.Is(err, archive.ErrNoArchive) {
			http.Error(w, fmt.Sprintf("error looking up archive for '%v': %v", d.Code, err), http.StatusInternalServerError)
			return
		}

		snapshots = append(snapshots, snapshot)
	}

	snapshotLookups.WithLabelValues("deliverable").Inc()
	utils.WriteJsonResponse(w, snapshots)
}
