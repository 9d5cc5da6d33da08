package bookings

import (
	"context"

	"github.com/wolfman30/or-scheduler/internal/audit"
	"github.com/wolfman30/or-scheduler/internal/observability/metrics"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

// Gate wraps the remote validator so every rejection is audited and every
// outcome is counted.
type Gate struct {
	validator scheduling.Validator
	audit     audit.Recorder
	metrics   *metrics.SchedulerMetrics
	logger    *logging.Logger
}

func NewGate(validator scheduling.Validator, logger *logging.Logger) *Gate {
	if validator == nil {
		panic("bookings: validator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{validator: validator, logger: logger.Component("validation_gate")}
}

func (g *Gate) WithAudit(r audit.Recorder) *Gate {
	g.audit = r
	return g
}

func (g *Gate) WithMetrics(m *metrics.SchedulerMetrics) *Gate {
	g.metrics = m
	return g
}

// For returns a validator bound to one wizard.
func (g *Gate) For(wizardID string) scheduling.Validator {
	return gateFor{gate: g, wizardID: wizardID}
}

type gateFor struct {
	gate     *Gate
	wizardID string
}

func (v gateFor) Validate(ctx context.Context, payload scheduling.Payload) (scheduling.ValidationResult, error) {
	g := v.gate
	result, err := g.validator.Validate(ctx, payload)
	if err != nil {
		g.metrics.ObserveValidation("error")
		g.logger.Warn("validation call failed", "error", err, "wizard_id", v.wizardID)
		return result, err
	}
	if result.OK {
		g.metrics.ObserveValidation("ok")
		return result, nil
	}
	g.metrics.ObserveValidation("rejected")
	g.logger.Info("draft rejected by validation", "wizard_id", v.wizardID, "suggestions", len(result.Suggestions))
	if g.audit != nil {
		if aerr := g.audit.LogEvent(ctx, audit.ValidationRejected(v.wizardID, payload, result)); aerr != nil {
			g.logger.Error("failed to write audit event", "error", aerr, "wizard_id", v.wizardID)
		}
	}
	return result, nil
}
