// Package handlers exposes the booking wizard, the calendar and the
// reference tables over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/or-scheduler/internal/availability"
	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/bookings"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/internal/sessions"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type errorResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads the body into dst and runs struct validation. An empty
// body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return errors.New(formatValidationErrors(err))
	}
	return nil
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "numeric":
			msgs = append(msgs, field+" must be numeric")
		case "gt", "gte", "min":
			msgs = append(msgs, field+" must be at least "+fe.Param())
		case "lt", "lte", "max":
			msgs = append(msgs, field+" must be at most "+fe.Param())
		case "oneof":
			msgs = append(msgs, field+" must be one of "+strings.Join(strings.Fields(fe.Param()), ", "))
		case "datetime":
			msgs = append(msgs, field+" must match "+fe.Param())
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, ", ")
}

func int64Param(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

func int64Query(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return id, nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean", name)
	}
	return &v, nil
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sessions.ErrNotFound),
		errors.Is(err, booking.ErrNotFound),
		errors.Is(err, scheduling.ErrUnknownSlot),
		errors.Is(err, scheduling.ErrItemNotInDraft):
		return http.StatusNotFound
	case errors.Is(err, scheduling.ErrWizardClosed):
		return http.StatusGone
	case errors.Is(err, scheduling.ErrInvalidPatientID),
		errors.Is(err, scheduling.ErrInvalidStatus),
		errors.Is(err, bookings.ErrMissingKey):
		return http.StatusBadRequest
	case errors.Is(err, scheduling.ErrValidationRejected),
		errors.Is(err, scheduling.ErrInvalidTransition),
		errors.Is(err, scheduling.ErrStaleResult),
		errors.Is(err, scheduling.ErrNotValidated),
		errors.Is(err, bookings.ErrSubmissionInFlight),
		errors.Is(err, bookings.ErrOutcomeUnresolved):
		return http.StatusConflict
	case errors.Is(err, booking.ErrOutcomeUnknown):
		return http.StatusBadGateway
	case errors.Is(err, scheduling.ErrStepIncomplete),
		errors.Is(err, scheduling.ErrCenterRequired),
		errors.Is(err, scheduling.ErrOutOfStock):
		return http.StatusUnprocessableEntity
	}
	var upstream interface{ Temporary() bool }
	if errors.As(err, &upstream) || availability.IsFetchError(err) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeDomainError renders err with its mapped status. Incomplete drafts
// list the missing fields.
func writeDomainError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var incomplete *scheduling.IncompleteDraftError
	if errors.As(err, &incomplete) {
		resp.Missing = incomplete.Missing
	}
	writeJSON(w, statusFor(err), resp)
}
