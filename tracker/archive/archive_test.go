package archive_test

import (
	"swiftdb/tracker/archive"
	"swiftdb/tracker/schema"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDb(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(schema.AllModels()...))

	return db
}

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestUpdateWorkPackageArchivesOldValues(t *testing.T) {
	db := setupDb(t)

	wp := schema.WorkPackage{Id: uuid.New(), Code: "WP-1", Name: "Training", Status: "draft"}
	require.NoError(t, db.Create(&wp).Error)

	now := date("2020-01-01")
	err := db.Transaction(func(txn *gorm.DB) error {
		return archive.UpdateWorkPackage(txn, &wp, archive.WorkPackageEdit{Status: "in review"}, now)
	})
	require.NoError(t, err)

	var live schema.WorkPackage
	require.NoError(t, db.First(&live, "code = ?", "WP-1").Error)
	assert.Equal(t, "in review", live.Status)
	assert.Equal(t, "draft", live.PreviousReport)
	assert.True(t, live.DateEdited.Equal(now))

	var rows []schema.WorkPackageArchive
	require.NoError(t, db.Find(&rows, "code = ?", "WP-1").Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "draft", rows[0].Status)
	assert.True(t, rows[0].DateEdited.Equal(now))
}

func TestUpdateTaskArchivesProgressSubset(t *testing.T) {
	db := setupDb(t)

	task := schema.Task{
		Id: uuid.New(), Code: "T-R1.1.1", WorkPackage: "WP-1", Partner: "Leeds",
		Description: "user needs report", Progress: "started", Percent: 10,
	}
	require.NoError(t, db.Create(&task).Error)

	edit := archive.ProgressEdit{
		PersonResponsible: "J. Smith",
		Progress:          "half way",
		Percent:           50,
		Papers:            "paper draft",
	}
	now := date("2020-06-01")
	err := db.Transaction(func(txn *gorm.DB) error {
		return archive.UpdateTask(txn, &task, edit, now)
	})
	require.NoError(t, err)

	var live schema.Task
	require.NoError(t, db.First(&live, "code = ?", "T-R1.1.1").Error)
	assert.Equal(t, "half way", live.Progress)
	assert.Equal(t, 50, live.Percent)
	assert.Equal(t, "started", live.PreviousReport)
	// Immutable fields pass through the edit untouched.
	assert.Equal(t, "WP-1", live.WorkPackage)
	assert.Equal(t, "user needs report", live.Description)

	var rows []schema.TaskArchive
	require.NoError(t, db.Find(&rows, "code = ?", "T-R1.1.1").Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "started", rows[0].Progress)
	assert.Equal(t, 10, rows[0].Percent)
}

func TestEveryEditAppendsOneArchiveRow(t *testing.T) {
	db := setupDb(t)

	deliverable := schema.Deliverable{
		Id: uuid.New(), Code: "D-R1.1", WorkPackage: "WP-1", Partner: "Leeds",
		Description: "report", Progress: "v0",
	}
	require.NoError(t, db.Create(&deliverable).Error)

	for i, progress := range []string{"v1", "v2", "v3"} {
		err := db.Transaction(func(txn *gorm.DB) error {
			return archive.UpdateDeliverable(txn, &deliverable, archive.ProgressEdit{Progress: progress}, date("2020-01-01").AddDate(0, i, 0))
		})
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&schema.DeliverableArchive{}).Where("code = ?", "D-R1.1").Count(&count).Error)
	assert.Equal(t, int64(3), count)

	var live schema.Deliverable
	require.NoError(t, db.First(&live, "code = ?", "D-R1.1").Error)
	assert.Equal(t, "v3", live.Progress)
	assert.Equal(t, "v2", live.PreviousReport)
}

func TestClosestLookup(t *testing.T) {
	db := setupDb(t)

	for _, row := range []schema.WorkPackageArchive{
		{Code: "WP-1", DateEdited: date("2020-01-01"), Status: "first"},
		{Code: "WP-1", DateEdited: date("2020-03-01"), Status: "second"},
		{Code: "WP-1", DateEdited: date("2020-06-01"), Status: "third"},
		{Code: "WP-2", DateEdited: date("2020-02-01"), Status: "other"},
	} {
		require.NoError(t, db.Create(&row).Error)
	}

	closest, err := archive.ClosestWorkPackage(db, "WP-1", date("2020-03-10"))
	require.NoError(t, err)
	assert.Equal(t, "second", closest.Status)

	closest, err = archive.ClosestWorkPackage(db, "WP-1", date("2019-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "first", closest.Status)

	closest, err = archive.ClosestWorkPackage(db, "WP-1", date("2021-01-01"))
	require.NoError(t, err)
	assert.Equal(t, "third", closest.Status)
}

func TestClosestLookupTieBreaksFirstEncountered(t *testing.T) {
	db := setupDb(t)

	// 2020-02-01 is equidistant from both rows.
	for _, row := range []schema.TaskArchive{
		{Code: "T-1", DateEdited: date("2020-01-01"), Progress: "older"},
		{Code: "T-1", DateEdited: date("2020-03-03"), Progress: "newer"},
	} {
		require.NoError(t, db.Create(&row).Error)
	}

	closest, err := archive.ClosestTask(db, "T-1", date("2020-02-01"))
	require.NoError(t, err)
	assert.Equal(t, "older", closest.Progress)
}

func TestClosestLookupNoRows(t *testing.T) {
	db := setupDb(t)

	_, err := archive.ClosestDeliverable(db, "D-missing", date("2020-01-01"))
	assert.ErrorIs(t, err, archive.ErrNoArchive)
}
