package versions

import (
	"log"
	"swiftdb/tracker/schema"

	"gorm.io/gorm"
)

// The legacy schema stored only the live report fields. This migration adds
// the previous_report column to each reportable table and backfills it from
// the newest archive row, which holds the value the last edit replaced.

func addPreviousReport(txn *gorm.DB, model interface{}, table, archiveTable, column string) error {
	if txn.Migrator().HasColumn(model, "PreviousReport") {
		return nil
	}

	if err := txn.Migrator().AddColumn(model, "PreviousReport"); err != nil {
		return err
	}

	backfill := `
		UPDATE ` + table + ` SET previous_report = (
			SELECT a.` + column + ` FROM ` + archiveTable + ` a
			WHERE a.code = ` + table + `.code
			ORDER BY a.id DESC LIMIT 1
		)
		WHERE EXISTS (
			SELECT 1 FROM ` + archiveTable + ` a WHERE a.code = ` + table + `.code
		)`

	return txn.Exec(backfill).Error
}

func Migration_1_previous_report(txn *gorm.DB) error {
	log.Println("running migration 1: add previous_report columns")

	if err := addPreviousReport(txn, &schema.WorkPackage{}, "work_packages", "work_package_archives", "status"); err != nil {
		return err
	}
	if err := addPreviousReport(txn, &schema.Task{}, "tasks", "task_archives", "progress"); err != nil {
		return err
	}
	return addPreviousReport(txn, &schema.Deliverable{}, "deliverables", "deliverable_archives", "progress")
}
