package services

import (
	"fmt"
	"net/http"
	"swiftdb/tracker/schema"
	"time"

	"gorm.io/gorm"
)

// Tasks and deliverables share the same shape and lifecycle, differing only in
// which table they live in. The request/response types here are shared by both
// services.

type assignmentInfo struct {
	Id          string `json:"id"`
	Code        string `json:"code"`
	WorkPackage string `json:"work_package"`
	Partner     string `json:"partner"`

	Description       string    `json:"description"`
	PersonResponsible string    `json:"person_responsible"`
	MonthDue          time.Time `json:"month_due"`

	Progress            string `json:"progress"`
	Percent             int    `json:"percent"`
	Papers              string `json:"papers"`
	PaperSubmissionDate string `json:"paper_submission_date"`
	PreviousReport      string `json:"previous_report"`

	DateEdited time.Time `json:"date_edited"`
}

func taskInfo(t schema.Task) assignmentInfo {
	return assignmentInfo{
		Id:                  t.Id.String(),
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
		PreviousReport:      t.PreviousReport,
		DateEdited:          t.DateEdited,
	}
}

func deliverableInfo(d schema.Deliverable) assignmentInfo {
	return assignmentInfo{
		Id:                  d.Id.String(),
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
		PreviousReport:      d.PreviousReport,
		DateEdited:          d.DateEdited,
	}
}

type createAssignmentRequest struct {
	Code        string `json:"code"`
	WorkPackage string `json:"work_package"`
	Partner     string `json:"partner"`

	Description       string `json:"description"`
	PersonResponsible string `json:"person_responsible"`
	MonthDue          string `json:"month_due"`

	Progress            string `json:"progress"`
	Percent             int    `json:"percent"`
	Papers              string `json:"papers"`
	PaperSubmissionDate string `json:"paper_submission_date"`
}

type updateAssignmentRequest struct {
	WorkPackage string `json:"work_package"`
	Partner     string `json:"partner"`

	Description       string `json:"description"`
	PersonResponsible string `json:"person_responsible"`
	MonthDue          string `json:"month_due"`

	Progress            string `json:"progress"`
	Percent             int    `json:"percent"`
	Papers              string `json:"papers"`
	PaperSubmissionDate string `json:"paper_submission_date"`
}

type progressReportRequest struct {
	PersonResponsible   string `json:"person_responsible"`
	Progress            string `json:"progress"`
	Percent             int    `json:"percent"`
	Papers              string `json:"papers"`
	PaperSubmissionDate string `json:"paper_submission_date"`
}

type assignmentSnapshot struct {
	Code        string `json:"code"`
	WorkPackage string `json:"work_package"`
	Partner     string `json:"partner"`

	Description       string    `json:"description"`
	PersonResponsible string    `json:"person_responsible"`
	MonthDue          time.Time `json:"month_due"`

	Progress            string `json:"progress"`
	Percent             int    `json:"percent"`
	Papers              string `json:"papers"`
	PaperSubmissionDate string `json:"paper_submission_date"`

	DateEdited time.Time `json:"date_edited"`
}

// checkAssignmentRefs validates the foreign references of a task or
// deliverable. The sentinel partners never own assignments.
func checkAssignmentRefs(txn *gorm.DB, workPackage, partner string, percent int) error {
	if err := checkPercentRange(percent); err != nil {
		return err
	}
	if schema.IsSentinelPartner(partner) {
		return CodedError(fmt.Errorf("partner '%v' cannot own assignments", partner), http.StatusUnprocessableEntity)
	}
	if err := checkWorkPackageCodeExists(txn, workPackage); err != nil {
		return err
	}
	return checkPartnerNameExists(txn, partner)
}
