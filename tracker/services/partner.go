package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"swiftdb/tracker/auth"
	"swiftdb/tracker/schema"
	"swiftdb/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PartnerService struct {
	db      *gorm.DB
	session *auth.SessionProvider
}

func (s *PartnerService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.session.AuthMiddleware()...)
		r.Use(auth.AdminOnly(s.db))

		r.Get("/list", s.List)
		r.Post("/create", s.Create)
		r.Post("/{partner_id}", s.Update)
		r.Delete("/{partner_id}", s.Delete)
	})

	return r
}

type partnerInfo struct {
	Id      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Country string    `json:"country"`
	Role    string    `json:"role"`
}

func toPartnerInfo(p schema.Partner) partnerInfo {
	return partnerInfo{Id: p.Id, Name: p.Name, Country: p.Country, Role: p.Role}
}

func (s *PartnerService) List(w http.ResponseWriter, r *http.Request) {
	var partners []schema.Partner
	result := s.db.Where("name not in ?", []string{schema.AdminPartner, schema.ViewAllPartner}).
		Order("name asc").Find(&partners)
	if result.Error != nil {
		slog.Error("sql error listing partners", "error", result.Error)
		http.Error(w, fmt.Sprintf("error listing partners: %v", schema.ErrDbAccessFailed), http.StatusInternalServerError)
		return
	}

	infos := make([]partnerInfo, 0, len(partners))
	for _, p := range partners {
		infos = append(infos, toPartnerInfo(p))
	}
	utils.WriteJsonResponse(w, infos)
}

type createPartnerRequest struct {
	Name    string `json:"name"`
	Country string `json:"country"`
	Role    string `json:"role"`
}

type createPartnerResponse struct {
	PartnerId uuid.UUID `json:"partner_id"`
}

func (s *PartnerService) Create(w http.ResponseWriter, r *http.Request) {
	var params createPartnerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" || schema.IsSentinelPartner(params.Name) {
		http.Error(w, fmt.Sprintf("invalid partner name '%v'", params.Name), http.StatusUnprocessableEntity)
		return
	}

	partner := schema.Partner{
		Id: uuid.New(), Name: params.Name, Country: params.Country, Role: params.Role,
	}

	err := s.db.Transaction(func(txn *gorm.DB) error {
		var existing schema.Partner
		result := txn.Where("name = ?", params.Name).First(&existing)
		if result.Error == nil {
			return CodedError(fmt.Errorf("partner '%v' already exists", params.Name), http.StatusConflict)
		}
		if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			slog.Error("sql error checking for existing partner", "name", params.Name, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result := txn.Create(&partner); result.Error != nil {
			slog.Error("sql error creating partner", "name", params.Name, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating partner: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createPartnerResponse{PartnerId: partner.Id})
}

type updatePartnerRequest struct {
	Name    string `json:"name"`
	Country string `json:"country"`
	Role    string `json:"role"`
}

// Update renames a partner and cascades the new name into the tasks,
// deliverables, and access grants that reference it.
func (s *PartnerService) Update(w http.ResponseWriter, r *http.Request) {
	partnerId, err := utils.URLParamUUID(r, "partner_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params updatePartnerRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name == "" || schema.IsSentinelPartner(params.Name) {
		http.Error(w, fmt.Sprintf("invalid partner name '%v'", params.Name), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		partner, err := schema.GetPartner(partnerId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrPartnerNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if schema.IsSentinelPartner(partner.Name) {
			return CodedError(fmt.Errorf("partner '%v' cannot be modified", partner.Name), http.StatusForbidden)
		}

		oldName := partner.Name
		partner.Name = params.Name
		partner.Country = params.Country
		partner.Role = params.Role

		if result := txn.Save(&partner); result.Error != nil {
			slog.Error("sql error updating partner", "partner_id", partnerId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if oldName != params.Name {
			for _, update := range []struct {
				model  interface{}
				column string
			}{
				{&schema.Task{}, "partner"},
				{&schema.Deliverable{}, "partner"},
				{&schema.UserPartner{}, "partner"},
			} {
				result := txn.Model(update.model).Where(update.column+" = ?", oldName).
					Update(update.column, params.Name)
				if result.Error != nil {
					slog.Error("sql error cascading partner rename", "old_name", oldName, "error", result.Error)
					return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
				}
			}
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error updating partner %v: %v", partnerId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}

func (s *PartnerService) Delete(w http.ResponseWriter, r *http.Request) {
	partnerId, err := utils.URLParamUUID(r, "partner_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		partner, err := schema.GetPartner(partnerId, txn)
		if err != nil {
			if errors.Is(err, schema.ErrPartnerNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if schema.IsSentinelPartner(partner.Name) {
			return CodedError(fmt.Errorf("partner '%v' cannot be deleted", partner.Name), http.StatusForbidden)
		}

		for _, dependent := range []struct {
			model interface{}
			kind  string
		}{
			{&schema.Task{}, "tasks"},
			{&schema.Deliverable{}, "deliverables"},
			{&schema.UserPartner{}, "access grants"},
		} {
			var count int64
			result := txn.Model(dependent.model).Where("partner = ?", partner.Name).Count(&count)
			if result.Error != nil {
				slog.Error("sql error counting partner dependents", "name", partner.Name, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if count > 0 {
				return CodedError(
					fmt.Errorf("partner '%v' still has %d %v", partner.Name, count, dependent.kind),
					http.StatusConflict,
				)
			}
		}

		if result := txn.Delete(&schema.Partner{Id: partnerId}); result.Error != nil {
			slog.Error("sql error deleting partner", "partner_id", partnerId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting partner %v: %v", partnerId, err), GetResponseCode(err))
		return
	}

	utils.WriteSuccess(w)
}
