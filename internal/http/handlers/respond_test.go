package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/availability"
	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/bookings"
	"github.com/wolfman30/or-scheduler/internal/mockbackend"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/internal/sessions"
)

type temporaryErr struct{}

func (temporaryErr) Error() string   { return "gateway timeout" }
func (temporaryErr) Temporary() bool { return true }

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{sessions.ErrNotFound, http.StatusNotFound},
		{mockbackend.ErrUnknownBooking, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", scheduling.ErrUnknownSlot), http.StatusNotFound},
		{scheduling.ErrWizardClosed, http.StatusGone},
		{scheduling.ErrInvalidPatientID, http.StatusBadRequest},
		{bookings.ErrMissingKey, http.StatusBadRequest},
		{scheduling.ErrValidationRejected, http.StatusConflict},
		{bookings.ErrSubmissionInFlight, http.StatusConflict},
		{bookings.ErrOutcomeUnresolved, http.StatusConflict},
		{fmt.Errorf("bookings: submit: %w", booking.ErrOutcomeUnknown), http.StatusBadGateway},
		{&scheduling.IncompleteDraftError{Missing: []string{"slot"}}, http.StatusUnprocessableEntity},
		{scheduling.ErrOutOfStock, http.StatusUnprocessableEntity},
		{&availability.FetchError{Op: "slots", Err: errors.New("refused")}, http.StatusBadGateway},
		{fmt.Errorf("remote: %w", temporaryErr{}), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"index":1,"extra":true}`))
	var body selectSlotRequest
	err := decodeJSON(req, &body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid json")
}

func TestDecodeJSONEmptyBodyRunsValidation(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	var body statusRequest
	err := decodeJSON(req, &body)
	require.Error(t, err)
	assert.Equal(t, "status is required", err.Error())
}

func TestWriteDomainErrorListsMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, &scheduling.IncompleteDraftError{Missing: []string{"patient_id", "slot"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decode[errorResponse](t, rec)
	assert.Equal(t, []string{"patient_id", "slot"}, body.Missing)
}
