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

type TaskService struct {
	db      *gorm.DB
	session *auth.SessionProvider
}

func (s *TaskService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)

		r.Get("/assigned", s.Assigned)
		r.Get("/visible", s.Visible)
		r.Get("/snapshot", s.Snapshot)
		r.Post("/{task_id}/report", s.Report)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Get("/list", s.List)
		r.Post("/create", s.Create)
		r.Post("/{task_id}", s.Update)
		r.Delete("/{task_id}", s.Delete)
	})

	return r
}

func listTasks(db *gorm.DB, column string, values []string) ([]assignmentInfo, error) {
	query := db.Order("code asc")
	if values != nil {
		query = query.Where(column+" in ?", values)
	}

	var tasks []schema.Task
	if result := query.Find(&tasks); result.Error != nil {
		slog.Error("sql error listing tasks", "error", result.Error)
		return nil, CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	infos := make([]assignmentInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, taskInfo(t))
	}
	return infos, nil
}

func (s *TaskService) List(w http.ResponseWriter, r *http.Request) {
	infos, err := listTasks(s.db, "", nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing tasks: %v", err), GetResponseCode(err))
		return
	}
	utils.WriteJsonResponse(w, infos)
}

// Assigned returns the tasks owned by the caller's partners. Admins and
// readers see all tasks.
func (s *TaskService) Assigned(w http.ResponseWriter, r *http.Request) {
	s.listForCaller(w, r, "partner", func(roles auth.Roles) []string { return roles.Partners })
}

// Visible returns the tasks under the caller's work packages. A work package
// leader can see every task in their work package even when another partner
// owns it.
func (s *TaskService) Visible(w http.ResponseWriter, r *http.Request) {
	s.listForCaller(w, r, "work_package", func(roles auth.Roles) []string { return roles.WorkPackages })
}

func (s *TaskService) listForCaller(w http.ResponseWriter, r *http.Request, column string, scope func(auth.Roles) []string) {
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

	infos, err := listTasks(s.db, column, values)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing tasks: %v", err), GetResponseCode(err))
		return
	}
	utils.WriteJsonResponse(w, infos)
}

type createAssignmentResponse struct {
	Id uuid.UUID `json:"id"`
}

func (s *TaskService) Create(w http.ResponseWriter, r *http.Request) {
	var params createAssignmentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Code == "" || params.Description == "" {
		http.Error(w, "task code and description are required", http.StatusUnprocessableEntity)
		return
	}

	monthDue, err := parseDateField(params.MonthDue, "month_due")
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	task := schema.Task{
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

		var existing schema.Task
		result := txn.Limit(1).Find(&existing, "code = ?", params.Code)
		if result.Error != nil {
			slog.Error("sql error checking for existing task", "code", params.Code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result.RowsAffected > 0 {
			return CodedError(fmt.Errorf("task '%v' already exists", params.Code), http.StatusConflict)
		}

		if result := txn.Create(&task); result.Error != nil {
			slog.Error("sql error creating task", "code", params.Code, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating task: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createAssignmentResponse{Id: task.Id})
}

// Update is the admin edit: it can move the task between work packages and
// partners, and goes through the archive engine for the progress fields.
func (s *TaskService) Update(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updateAssignmentRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		task, err := schema.GetTask(taskId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if params.WorkPackage != "" {
			task.WorkPackage = params.WorkPackage
		}
		if params.Partner != "" {
			task.Partner = params.Partner
		}
		if err := checkAssignmentRefs(txn, task.WorkPackage, task.Partner, params.Percent); err != nil {
			return err
		}

		if params.Description != "" {
			task.Description = params.Description
		}
		if params.MonthDue != "" {
			monthDue, err := parseDateField(params.MonthDue, "month_due")
			if err != nil {
				return err
			}
			task.MonthDue = monthDue
		}

		edit := archive.ProgressEdit{
			PersonResponsible:   params.PersonResponsible,
			Progress:            params.Progress,
			Percent:             params.Percent,
			Papers:              params.Papers,
			PaperSubmissionDate: params.PaperSubmissionDate,
		}
		if err := archive.UpdateTask(txn, &task, edit, time.Now().UTC()); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating task %v: %v", taskId, err), GetResponseCode(err))
		return
	}

	entityEdits.WithLabelValues("task").Inc()
	utils.WriteSuccess(w)
}

// Report is the leader edit path: only the progress subset can change, and
// the caller must lead the owning partner. Work package grants confer
// visibility over the tasks under the work package, never edit rights.
func (s *TaskService) Report(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
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
		task, err := schema.GetTask(taskId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		roles, err := auth.UserRoles(user.Username, txn)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		if !roles.CanEditAssignment(task.Partner) {
			accessDenied.Inc()
			return CodedError(
				fmt.Errorf("user '%v' cannot report on task '%v'", user.Username, task.Code),
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
		if err := archive.UpdateTask(txn, &task, edit, time.Now().UTC()); err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error reporting on task %v: %v", taskId, err), GetResponseCode(err))
		return
	}

	entityEdits.WithLabelValues("task").Inc()
	utils.WriteSuccess(w)
}

func (s *TaskService) Delete(w http.ResponseWriter, r *http.Request) {
	taskId, err := utils.URLParamUUID(r, "task_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		_, err := schema.GetTask(taskId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrTaskNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if result := txn.Delete(&schema.Task{Id: taskId}); result.Error != nil {
			slog.Error("sql error deleting task", "task_id", taskId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting task %v: %v", taskId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

// Snapshot reconstructs the state of every task as of ?date=.
func (s *TaskService) Snapshot(w http.ResponseWriter, r *http.Request) {
	target, err := dateQueryParam(r, "date")
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var tasks []schema.Task
	if result := s.db.Order("code asc").Find(&tasks); result.Error != nil {
		slog.Error("sql error listing tasks for snapshot", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing tasks: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	snapshots := make([]assignmentSnapshot, 0, len(tasks))
	for _, t := range tasks {
		snapshot := assignmentSnapshot{
			Code:                t.Code,
			WorkPackage:         t.WorkPackage,
			Partner:             t.Partner,
			Description:         t.Description,
			PersonResponsible:   t.PersonResponsible,
			MonthDue:            t.MonthDue,
			Progress:            t.Progress,
			Percent:             t.Percent,
			Papers:              t.Papers,
			PaperSubmissionDate: t.PaperSubmissionDate,
			DateEdited:          t.DateEdited,
		}

		archived, err := archive.ClosestTask(s.db, t.Code, target)
		if err == nil {
			snapshot.PersonResponsible = archived.PersonResponsible
			snapshot.Progress = archived.Progress
			snapshot.Percent = archived.Percent
			snapshot.Papers = archived.Papers
			snapshot.PaperSubmissionDate = archived.PaperSubmissionDate
			snapshot.DateEdited = archived.DateEdited
		} else if !errors.Is(err, archive.ErrNoArchive) {
			http.Error(w, fmt.Sprintf("error looking up archive for '%v': %v", t.Code, err), http.StatusInternalServerError)
			return
		}

		snapshots = append(snapshots, snapshot)
	}

	snapshotLookups.WithLabelValues("task").Inc()
	utils.WriteJsonResponse(w, snapshots)
}
