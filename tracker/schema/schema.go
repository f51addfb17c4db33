package schema

import (
	"time"

	"github.com/google/uuid"
)

// Partners "admin" and "ViewAll" are access-scope sentinels, not real
// organizations. Granting a user the "admin" partner makes them an
// administrator, "ViewAll" makes them a read-only reader. They are seeded at
// startup and may never be deleted.
const (
	AdminPartner   = "admin"
	ViewAllPartner = "ViewAll"
)

func IsSentinelPartner(name string) bool {
	return name == AdminPartner || name == ViewAllPartner
}

type Partner struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name    string `gorm:"unique;size:100;not null"`
	Country string `gorm:"size:100"`
	Role    string `gorm:"size:100"`
}

type WorkPackage struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Code string `gorm:"unique;size:50;not null"`
	Name string `gorm:"size:200;not null"`

	Status          string
	Issues          string
	NextDeliverable string
	PreviousReport  string

	DateEdited time.Time
}

type Task struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Code        string `gorm:"unique;size:50;not null"`
	WorkPackage string `gorm:"size:50;not null"`
	Partner     string `gorm:"size:100;not null"`

	Description       string `gorm:"not null"`
	PersonResponsible string `gorm:"size:200"`
	MonthDue          time.Time

	Progress            string
	Percent             int `gorm:"not null;default:0"`
	Papers              string
	PaperSubmissionDate string `gorm:"size:100"`
	PreviousReport      string

	DateEdited time.Time

	WorkPackageRef *WorkPackage `gorm:"foreignKey:WorkPackage;references:Code"`
	PartnerRef     *Partner     `gorm:"foreignKey:Partner;references:Name"`
}

type Deliverable struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Code        string `gorm:"unique;size:50;not null"`
	WorkPackage string `gorm:"size:50;not null"`
	Partner     string `gorm:"size:100;not null"`

	Description       string `gorm:"not null"`
	PersonResponsible string `gorm:"size:200"`
	MonthDue          time.Time

	Progress            string
	Percent             int `gorm:"not null;default:0"`
	Papers              string
	PaperSubmissionDate string `gorm:"size:100"`
	PreviousReport      string

	DateEdited time.Time

	WorkPackageRef *WorkPackage `gorm:"foreignKey:WorkPackage;references:Code"`
	PartnerRef     *Partner     `gorm:"foreignKey:Partner;references:Name"`
}

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"unique;size:50;not null"`
	Password []byte
}

// UserWorkPackage grants a user edit rights over one work package, UserPartner
// over every task/deliverable owned by one partner.
type UserWorkPackage struct {
	Username    string `gorm:"primaryKey;size:50"`
	WorkPackage string `gorm:"primaryKey;size:50"`
}

type UserPartner struct {
	Username string `gorm:"primaryKey;size:50"`
	Partner  string `gorm:"primaryKey;size:100"`
}

// Archive rows are append-only. The auto-increment id doubles as the
// insertion order used to break ties in closest-date lookups.

type WorkPackageArchive struct {
	Id uint `gorm:"primaryKey"`

	Code       string `gorm:"size:50;not null;index"`
	DateEdited time.Time

	Status          string
	Issues          string
	NextDeliverable string
}

type TaskArchive struct {
	Id uint `gorm:"primaryKey"`

	Code       string `gorm:"size:50;not null;index"`
	DateEdited time.Time

	PersonResponsible   string `gorm:"size:200"`
	Progress            string
	Percent             int
	Papers              string
	PaperSubmissionDate string `gorm:"size:100"`
}

type DeliverableArchive struct {
	Id uint `gorm:"primaryKey"`

	Code       string `gorm:"size:50;not null;index"`
	DateEdited time.Time

	PersonResponsible   string `gorm:"size:200"`
	Progress            string
	Percent             int
	Papers              string
	PaperSubmissionDate string `gorm:"size:100"`
}

// AllModels is the migration set passed to AutoMigrate by the server and the
// test setup.
func AllModels() []interface{} {
	return []interface{}{
		&Partner{}, &WorkPackage{}, &Task{}, &Deliverable{},
		&User{}, &UserWorkPackage{}, &UserPartner{},
		&WorkPackageArchive{}, &TaskArchive{}, &DeliverableArchive{},
	}
}
