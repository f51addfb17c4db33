package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrPartnerNotFound     = errors.New("partner not found")
	ErrWorkPackageNotFound = errors.New("work package not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrDeliverableNotFound = errors.New("deliverable not found")
	ErrDbAccessFailed      = errors.New("db access failed")
)

func GetUser(userId uuid.UUID, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "id = ?", userId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user", "user_id", userId, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetUserByUsername(username string, db *gorm.DB) (User, error) {
	var user User

	result := db.First(&user, "username = ?", username)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return user, ErrUserNotFound
		}
		slog.Error("sql error in get user by username", "username", username, "error", result.Error)
		return user, ErrDbAccessFailed
	}

	return user, nil
}

func GetPartner(partnerId uuid.UUID, db *gorm.DB) (Partner, error) {
	var partner Partner

	result := db.First(&partner, "id = ?", partnerId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return partner, ErrPartnerNotFound
		}
		slog.Error("sql error in get partner", "partner_id", partnerId, "error", result.Error)
		return partner, ErrDbAccessFailed
	}

	return partner, nil
}

func GetWorkPackage(workPackageId uuid.UUID, db *gorm.DB) (WorkPackage, error) {
	var wp WorkPackage

	result := db.First(&wp, "id = ?", workPackageId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return wp, ErrWorkPackageNotFound
		}
		slog.Error("sql error in get work package", "work_package_id", workPackageId, "error", result.Error)
		return wp, ErrDbAccessFailed
	}

	return wp, nil
}

func GetTask(taskId uuid.UUID, db *gorm.DB) (Task, error) {
	var task Task

	result := db.First(&task, "id = ?", taskId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return task, ErrTaskNotFound
		}
		slog.Error("sql error in get task", "task_id", taskId, "error", result.Error)
		return task, ErrDbAccessFailed
	}

	return task, nil
}

func GetDeliverable(deliverableId uuid.UUID, db *gorm.DB) (Deliverable, error) {
	var deliverable Deliverable

	result := db.First(&deliverable, "id = ?", deliverableId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return deliverable, ErrDeliverableNotFound
		}
		slog.Error("sql error in get deliverable", "deliverable_id", deliverableId, "error", result.Error)
		return deliverable, ErrDbAccessFailed
	}

	return deliverable, nil
}

// GetUserWorkPackages returns the work package codes the user may edit.
func GetUserWorkPackages(username string, db *gorm.DB) ([]string, error) {
	var grants []UserWorkPackage
	result := db.Order("work_package asc").Find(&grants, "username = ?", username)
	if result.Error != nil {
		slog.Error("sql error in get user work packages", "username", username, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	codes := make([]string, 0, len(grants))
	for _, grant := range grants {
		codes = append(codes, grant.WorkPackage)
	}
	return codes, nil
}

// GetUserPartners returns the partner names the user may edit, including any
// sentinel grants. Use StripSentinels before showing the list to a human.
func GetUserPartners(username string, db *gorm.DB) ([]string, error) {
	var grants []UserPartner
	result := db.Order("partner asc").Find(&grants, "username = ?", username)
	if result.Error != nil {
		slog.Error("sql error in get user partners", "username", username, "error", result.Error)
		return nil, ErrDbAccessFailed
	}
	partners := make([]string, 0, len(grants))
	for _, grant := range grants {
		partners = append(partners, grant.Partner)
	}
	return partners, nil
}

func StripSentinels(partners []string) []string {
	out := make([]string, 0, len(partners))
	for _, p := range partners {
		if !IsSentinelPartner(p) {
			out = append(out, p)
		}
	}
	return out
}
