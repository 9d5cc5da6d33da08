package bookings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/or-scheduler/internal/audit"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type stubValidator struct {
	result scheduling.ValidationResult
	err    error
}

func (s stubValidator) Validate(context.Context, scheduling.Payload) (scheduling.ValidationResult, error) {
	return s.result, s.err
}

func TestGateAuditsRejections(t *testing.T) {
	start := time.Date(2025, 1, 10, 10, 0, 0, 0, time.UTC)
	rejected := scheduling.ValidationResult{
		OK:          false,
		Conflicts:   json.RawMessage(`[{"type":"room"}]`),
		Suggestions: []scheduling.Suggestion{{Start: start, End: start.Add(time.Hour)}},
	}
	rec := audit.NewMemoryRecorder()
	gate := NewGate(stubValidator{result: rejected}, logging.Discard()).WithAudit(rec)

	got, err := gate.For("wiz-9").Validate(context.Background(), payload())
	require.NoError(t, err)
	assert.False(t, got.OK)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventValidationRejected, events[0].EventType)
	assert.Equal(t, "wiz-9", events[0].WizardID)
}

func TestGatePassesThroughAcceptedAndErrors(t *testing.T) {
	rec := audit.NewMemoryRecorder()

	ok := NewGate(stubValidator{result: scheduling.ValidationResult{OK: true}}, logging.Discard()).WithAudit(rec)
	res, err := ok.For("w").Validate(context.Background(), payload())
	require.NoError(t, err)
	assert.True(t, res.OK)

	failing := NewGate(stubValidator{err: errors.New("503")}, logging.Discard()).WithAudit(rec)
	_, err = failing.For("w").Validate(context.Background(), payload())
	assert.Error(t, err)

	assert.Empty(t, rec.Events())
}
