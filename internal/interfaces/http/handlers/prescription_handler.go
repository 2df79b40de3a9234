package handlers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/turtacn/MedPlan-Intelligence/internal/application/prescription"
	"github.com/turtacn/MedPlan-Intelligence/internal/domain/medication"
	"github.com/turtacn/MedPlan-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/MedPlan-Intelligence/internal/intelligence/interaction_checker"
	"github.com/turtacn/MedPlan-Intelligence/pkg/errors"
)

// PrescriptionHandler serves the pipeline, interaction and ask endpoints.
type PrescriptionHandler struct {
	orchestrator prescription.Orchestrator
	ask          prescription.AskService
	checker      interaction_checker.Checker
	logger       logging.Logger
}

// NewPrescriptionHandler wires the handler. ask and checker may be nil; the
// matching endpoints then answer 503.
func NewPrescriptionHandler(
	orchestrator prescription.Orchestrator,
	ask prescription.AskService,
	checker interaction_checker.Checker,
	logger logging.Logger,
) *PrescriptionHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &PrescriptionHandler{
		orchestrator: orchestrator,
		ask:          ask,
		checker:      checker,
		logger:       logger.Named("handler"),
	}
}

// ParseRequestDTO is the wire form of a pipeline request. Images travel as
// standard base64, with or without a data URL prefix.
type ParseRequestDTO struct {
	RawText         string                      `json:"raw_text,omitempty"`
	ImageBase64     string                      `json:"image_base64,omitempty"`
	LanguageHint    string                      `json:"language_hint,omitempty"`
	UserPreferences *medication.UserPreferences `json:"user_preferences,omitempty"`
	Conditions      []string                    `json:"conditions,omitempty"`
	Allergies       []string                    `json:"allergies,omitempty"`
	UseLLM          *bool                       `json:"use_llm,omitempty"`
}

func (d *ParseRequestDTO) toRequest() (*prescription.ParseRequest, error) {
	req := &prescription.ParseRequest{
		RawText:         d.RawText,
		LanguageHint:    d.LanguageHint,
		UserPreferences: d.UserPreferences,
		Conditions:      d.Conditions,
		Allergies:       d.Allergies,
		UseLLM:          d.UseLLM,
	}
	if enc := strings.TrimSpace(d.ImageBase64); enc != "" {
		if i := strings.Index(enc, ","); strings.HasPrefix(enc, "data:") && i >= 0 {
			enc = enc[i+1:]
		}
		img, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, errors.New(errors.ErrCodeInputValidation, "image_base64 is not valid base64")
		}
		req.Image = img
	}
	return req, nil
}

// Parse handles POST /api/v1/prescriptions/parse. A plan that needs
// confirmation is still a 200; terminal pipeline failures carry the
// envelope with the mapped status.
func (h *PrescriptionHandler) Parse(w http.ResponseWriter, r *http.Request) {
	var dto ParseRequestDTO
	if err := decodeJSON(r, &dto); err != nil {
		WriteError(w, err)
		return
	}
	req, err := dto.toRequest()
	if err != nil {
		WriteError(w, err)
		return
	}

	resp := h.orchestrator.Process(r.Context(), req)
	status := http.StatusOK
	if err := resp.Err(); err != nil {
		status = errors.HTTPStatusForCode(errors.GetCode(err))
	}
	writeJSON(w, status, resp)
}

// InteractionCheckRequest is the body of POST /api/v1/interactions/check.
type InteractionCheckRequest struct {
	Medications []string `json:"medications"`
	Conditions  []string `json:"conditions,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
}

// CheckInteractions handles POST /api/v1/interactions/check.
func (h *PrescriptionHandler) CheckInteractions(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		WriteError(w, errors.New(errors.ErrCodeServiceUnavailable, "interaction checker not configured"))
		return
	}
	var req InteractionCheckRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if len(req.Medications) == 0 {
		WriteError(w, errors.New(errors.ErrCodeInputValidation, "medications is required"))
		return
	}
	writeJSON(w, http.StatusOK, h.checker.Check(req.Medications, req.Conditions, req.Allergies))
}

// Ask handles POST /api/v1/ask.
func (h *PrescriptionHandler) Ask(w http.ResponseWriter, r *http.Request) {
	if h.ask == nil {
		WriteError(w, errors.New(errors.ErrCodeOracleUnavailable, "ask service not configured"))
		return
	}
	var req prescription.AskRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	resp, err := h.ask.Ask(r.Context(), &req)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("ask failed", logging.Err(err))
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
