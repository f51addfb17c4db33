package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"swiftdb/tracker/schema"
	"time"

	"gorm.io/gorm"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

const dateLayout = "2006-01-02"

// dateQueryParam parses a required ?key=YYYY-MM-DD query parameter. An
// unparsable date is a hard 400: it is rejected at the boundary so the
// archive lookup never sees an invalid target.
func dateQueryParam(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, CodedError(fmt.Errorf("missing required query parameter '%v'", key), http.StatusBadRequest)
	}

	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, CodedError(fmt.Errorf("invalid date '%v', expected format %v", value, dateLayout), http.StatusBadRequest)
	}
	return date, nil
}

func parseDateField(value, field string) (time.Time, error) {
	date, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, CodedError(fmt.Errorf("invalid %v '%v', expected format %v", field, value, dateLayout), http.StatusUnprocessableEntity)
	}
	return date, nil
}

func checkPercentRange(percent int) error {
	if percent < 0 || percent > 100 {
		return CodedError(fmt.Errorf("percent must be between 0 and 100, got %d", percent), http.StatusUnprocessableEntity)
	}
	return nil
}

func checkWorkPackageCodeExists(txn *gorm.DB, code string) error {
	var wp schema.WorkPackage
	result := txn.Limit(1).Find(&wp, "code = ?", code)
	if result.Error != nil {
		slog.Error("sql error checking for work package code", "code", code, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		return CodedError(fmt.Errorf("work package '%v' does not exist", code), http.StatusUnprocessableEntity)
	}
	return nil
}

func checkPartnerNameExists(txn *gorm.DB, name string) error {
	var partner schema.Partner
	result := txn.Limit(1).Find(&partner, "name = ?", name)
	if result.Error != nil {
		slog.Error("sql error checking for partner name", "name", name, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		return CodedError(fmt.Errorf("partner '%v' does not exist", name), http.StatusUnprocessableEntity)
	}
	return nil
}

func checkUserExists(txn *gorm.DB, username string) error {
	var user schema.User
	result := txn.Limit(1).Find(&user, "username = ?", username)
	if result.Error != nil {
		slog.Error("sql error checking for user", "username", username, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if result.RowsAffected == 0 {
		return CodedError(schema.ErrUserNotFound, http.StatusNotFound)
	}
	return nil
}
