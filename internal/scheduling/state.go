package scheduling

import (
	"time"
)

// WizardState is the serializable form of a wizard, used to persist
// sessions. In-flight searches are not part of it.
type WizardState struct {
	ID             string            `json:"id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Step           Step              `json:"step"`
	StepName       string            `json:"step_name"`
	Draft          BookingDraft      `json:"draft"`
	Slots          []Slot            `json:"slots,omitempty"`
	Closed         bool              `json:"closed"`
	BookingID      int64             `json:"booking_id,omitempty"`
	Revision       uint64            `json:"revision"`
	ValidatedRev   uint64            `json:"validated_revision,omitempty"`
	LastValidation *ValidationResult `json:"last_validation,omitempty"`
	Location       string            `json:"location,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validated reports whether the stored revision passed validation.
func (s WizardState) Validated() bool {
	return s.ValidatedRev != 0 && s.ValidatedRev == s.Revision
}

// State snapshots the wizard.
func (w *Wizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := WizardState{
		ID:             w.id,
		IdempotencyKey: w.idempotencyKey,
		Step:           w.step,
		StepName:       w.step.String(),
		Draft:          copyDraft(w.draft),
		Slots:          append([]Slot(nil), w.slots...),
		Closed:         w.closed,
		BookingID:      w.bookingID,
		Revision:       w.revision,
		ValidatedRev:   w.validatedRev,
		Location:       w.loc.String(),
		CreatedAt:      w.createdAt,
		UpdatedAt:      w.updatedAt,
	}
	if w.lastValidation != nil {
		v := *w.lastValidation
		st.LastValidation = &v
	}
	return st
}

// RestoreWizard rebuilds a wizard from a snapshot.
func RestoreWizard(st WizardState, opts ...WizardOption) *Wizard {
	w := &Wizard{
		id:             st.ID,
		idempotencyKey: st.IdempotencyKey,
		step:           st.Step,
		draft:          copyDraft(st.Draft),
		slots:          append([]Slot(nil), st.Slots...),
		closed:         st.Closed,
		bookingID:      st.BookingID,
		revision:       st.Revision,
		validatedRev:   st.ValidatedRev,
		loc:            time.UTC,
		now:            time.Now,
		createdAt:      st.CreatedAt,
		updatedAt:      st.UpdatedAt,
	}
	if st.Location != "" {
		if loc, err := time.LoadLocation(st.Location); err == nil {
			w.loc = loc
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	if st.LastValidation != nil {
		v := *st.LastValidation
		w.lastValidation = &v
	}
	if w.step == 0 {
		w.step = StepProcedure
	}
	if w.revision == 0 {
		w.revision = 1
	}
	return w
}
