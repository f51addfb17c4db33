// Package archive implements the archive-on-edit engine: every update to a
// work package, task or deliverable snapshots the pre-update mutable fields
// into the corresponding archive table inside the same transaction as the
// live update. Archive rows are append-only and are the only source of
// historical state.
package archive

import (
	"errors"
	"log/slog"
	"swiftdb/tracker/schema"
	"time"

	"gorm.io/gorm"
)

// ErrNoArchive means no archive rows exist for a code. Callers must treat it
// as "no historical data", not as a failure.
var ErrNoArchive = errors.New("no archive rows for code")

// Edit payloads are a closed set: one typed struct per entity kind, each with
// its own archive-field subset. Fields outside these structs cannot be
// changed through the engine.

type WorkPackageEdit struct {
	Status          string
	Issues          string
	NextDeliverable string
}

type ProgressEdit struct {
	PersonResponsible   string
	Progress            string
	Percent             int
	Papers              string
	PaperSubmissionDate string
}

// UpdateWorkPackage applies the edit to the live row and appends one archive
// row holding the pre-update values, stamped with the edit time. Must run
// inside a transaction: a live update without its archive row (or vice versa)
// is a correctness violation.
func UpdateWorkPackage(txn *gorm.DB, wp *schema.WorkPackage, edit WorkPackageEdit, now time.Time) error {
	snapshot := schema.WorkPackageArchive{
		Code:            wp.Code,
		DateEdited:      now,
		Status:          wp.Status,
		Issues:          wp.Issues,
		NextDeliverable: wp.NextDeliverable,
	}

	wp.PreviousReport = wp.Status
	wp.Status = edit.Status
	wp.Issues = edit.Issues
	wp.NextDeliverable = edit.NextDeliverable
	wp.DateEdited = now

	if result := txn.Save(wp); result.Error != nil {
		slog.Error("sql error updating work package", "code", wp.Code, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	if result := txn.Create(&snapshot); result.Error != nil {
		slog.Error("sql error archiving work package", "code", wp.Code, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	return nil
}

func UpdateTask(txn *gorm.DB, task *schema.Task, edit ProgressEdit, now time.Time) error {
	snapshot := schema.TaskArchive{
		Code:                task.Code,
		DateEdited:          now,
		PersonResponsible:   task.PersonResponsible,
		Progress:            task.Progress,
		Percent:             task.Percent,
		Papers:              task.Papers,
		PaperSubmissionDate: task.PaperSubmissionDate,
	}

	task.PreviousReport = task.Progress
	applyProgressEdit(&task.PersonResponsible, &task.Progress, &task.Percent, &task.Papers, &task.PaperSubmissionDate, edit)
	task.DateEdited = now

	if result := txn.Save(task); result.Error != nil {
		slog.Error("sql error updating task", "code", task.Code, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	if result := txn.Create(&snapshot); result.Error != nil {
		slog.Error("sql error archiving task", "code", task.Code, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	return nil
}

func UpdateDeliverable(txn *gorm.DB, deliverable *schema.Deliverable, edit ProgressEdit, now time.Time) error {
	snapshot := schema.DeliverableArchive{
		Code:                deliverable.Code,
		DateEdited:          now,
		PersonResponsible:   deliverable.PersonResponsible,
		Progress:            deliverable.Progress,
		Percent:             deliverable.Percent,
		Papers:              deliverable.Papers,
		PaperSubmissionDate: deliverable.PaperSubmissionDate,
	}

	deliverable.PreviousReport = deliverable.Progress
	applyProgressEdit(&deliverable.PersonResponsible, &deliverable.Progress, &deliverable.Percent, &deliverable.Papers, &deliverable.PaperSubmissionDate, edit)
	deliverable.DateEdited = now

	if result := txn.Save(deliverable); result.Error != nil {
		slog.Error("sql error updating deliverable", "code", deliverable.Code, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	if result := txn.Create(&snapshot); result.Error != nil {
		slog.Error("sql error archiving deliverable", "code", deliverable.Code, "error", result.Error)
		return schema.ErrDbAccessFailed
	}

	return nil
}

func applyProgressEdit(personResponsible, progress *string, percent *int, papers, paperSubmissionDate *string, edit ProgressEdit) {
	*personResponsible = edit.PersonResponsible
	*progress = edit.Progress
	*percent = edit.Percent
	*papers = edit.Papers
	*paperSubmissionDate = edit.PaperSubmissionDate
}

// closestIndex returns the index of the time with minimum absolute distance
// to target. Strict comparison keeps the first-encountered row on ties.
func closestIndex(times []time.Time, target time.Time) int {
	best := 0
	bestDist := absDuration(times[0].Sub(target))
	for i := 1; i < len(times); i++ {
		if dist := absDuration(times[i].Sub(target)); dist < bestDist {
			best = i
			bestDist = dist
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// ClosestWorkPackage returns the archive row for code whose edit date is
// nearest to target.
func ClosestWorkPackage(db *gorm.DB, code string, target time.Time) (schema.WorkPackageArchive, error) {
	var rows []schema.WorkPackageArchive
	result := db.Order("id asc").Find(&rows, "code = ?", code)
	if result.Error != nil {
		slog.Error("sql error listing work package archive", "code", code, "error", result.Error)
		return schema.WorkPackageArchive{}, schema.ErrDbAccessFailed
	}
	if len(rows) == 0 {
		return schema.WorkPackageArchive{}, ErrNoArchive
	}

	times := make([]time.Time, len(rows))
	for i, row := range rows {
		times[i] = row.DateEdited
	}
	return rows[closestIndex(times, target)], nil
}

func ClosestTask(db *gorm.DB, code string, target time.Time) (schema.TaskArchive, error) {
	var rows []schema.TaskArchive
	result := db.Order("id asc").Find(&rows, "code = ?", code)
	if result.Error != nil {
		slog.Error("sql error listing task archive", "code", code, "error", result.Error)
		return schema.TaskArchive{}, schema.ErrDbAccessFailed
	}
	if len(rows) == 0 {
		return schema.TaskArchive{}, ErrNoArchive
	}

	times := make([]time.Time, len(rows))
	for i, row := range rows {
		times[i] = row.DateEdited
	}
	return rows[closestIndex(times, target)], nil
}

func ClosestDeliverable(db *gorm.DB, code string, target time.Time) (schema.DeliverableArchive, error) {
	var rows []schema.DeliverableArchive
	result := db.Order("id asc").Find(&rows, "code = ?", code)
	if result.Error != nil {
		slog.Error("sql error listing deliverable archive", "code", code, "error", result.Error)
		return schema.DeliverableArchive{}, schema.ErrDbAccessFailed
	}
	if len(rows) == 0 {
		return schema.DeliverableArchive{}, ErrNoArchive
	}

	times := make([]time.Time, len(rows))
	for i, row := range rows {
		times[i] = row.DateEdited
	}
	return rows[closestIndex(times, target)], nil
}
