package scheduling

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Step is a wizard position.
type Step int

const (
	StepProcedure Step = iota + 1
	StepStaff
	StepResources
	StepSubmitted
)

func (s Step) String() string {
	switch s {
	case StepProcedure:
		return "procedure"
	case StepStaff:
		return "staff"
	case StepResources:
		return "resources"
	case StepSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

// SlotSearcher answers availability queries.
type SlotSearcher interface {
	Search(ctx context.Context, q SlotQuery) ([]Slot, error)
}

// Validator is the remote draft check. The wizard never computes conflicts itself.
type Validator interface {
	Validate(ctx context.Context, payload Payload) (ValidationResult, error)
}

// ProcedureInput carries the step-one fields.
type ProcedureInput struct {
	PatientID     string
	ProcedureName string
	DurationHours float64
	Date          time.Time
	CenterID      int64
	ResponsibleID int64
	RoomID        int64
}

// Wizard drives one booking draft through procedure, staff and resources
// steps. It is safe for concurrent use.
type Wizard struct {
	mu sync.Mutex

	id             string
	idempotencyKey string
	step           Step
	draft          BookingDraft
	slots          []Slot
	closed         bool
	bookingID      int64

	// revision increments on every draft change; validatedRev is the
	// revision that last passed the remote check.
	revision       uint64
	validatedRev   uint64
	lastValidation *ValidationResult

	searchGen    uint64
	cancelSearch context.CancelFunc

	loc       *time.Location
	now       func() time.Time
	createdAt time.Time
	updatedAt time.Time
}

// WizardOption customizes a wizard.
type WizardOption func(*Wizard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) WizardOption {
	return func(w *Wizard) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLocation sets the zone used for the default day window.
func WithLocation(loc *time.Location) WizardOption {
	return func(w *Wizard) {
		if loc != nil {
			w.loc = loc
		}
	}
}

// NewWizard opens a wizard at step one with a fresh idempotency key.
func NewWizard(opts ...WizardOption) *Wizard {
	w := &Wizard{
		id:             uuid.NewString(),
		idempotencyKey: uuid.NewString(),
		step:           StepProcedure,
		revision:       1,
		loc:            time.UTC,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.draft.DurationMinutes = DurationFromHours(1)
	w.draft.Date = w.now().In(w.loc)
	w.createdAt = w.now()
	w.updatedAt = w.createdAt
	return w
}

func (w *Wizard) ID() string {
	return w.id
}

// IdempotencyKey is stable for the lifetime of the draft.
func (w *Wizard) IdempotencyKey() string {
	return w.idempotencyKey
}

func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Closed reports whether the wizard was cancelled or submitted.
func (w *Wizard) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Draft returns a copy of the current draft.
func (w *Wizard) Draft() BookingDraft {
	w.mu.Lock()
	defer w.mu.Unlock()
	return copyDraft(w.draft)
}

// Slots returns the last applied search result.
func (w *Wizard) Slots() []Slot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Slot(nil), w.slots...)
}

// SetProcedure updates the step-one fields. Changing anything that feeds the
// availability query invalidates in-flight searches, the slot list and the
// selection.
func (w *Wizard) SetProcedure(in ProcedureInput) error {
	patient := strings.TrimSpace(in.PatientID)
	if patient != "" {
		if _, err := strconv.ParseInt(patient, 10, 64); err != nil {
			return ErrInvalidPatientID
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepProcedure); err != nil {
		return err
	}

	next := w.draft
	next.PatientID = patient
	next.ProcedureName = strings.TrimSpace(in.ProcedureName)
	next.DurationMinutes = DurationFromHours(in.DurationHours)
	if !in.Date.IsZero() {
		next.Date = in.Date.In(w.loc)
	}
	next.CenterID = in.CenterID
	next.ResponsibleID = in.ResponsibleID
	next.RoomID = in.RoomID

	if queryChanged(w.draft, next) {
		w.invalidateSearchLocked()
		w.slots = nil
		next.Selection = nil
	}
	w.draft = next
	w.touchLocked()
	return nil
}

func queryChanged(a, b BookingDraft) bool {
	ay, am, ad := a.Date.Date()
	by, bm, bd := b.Date.Date()
	return a.DurationMinutes != b.DurationMinutes ||
		a.CenterID != b.CenterID ||
		a.ResponsibleID != b.ResponsibleID ||
		a.RoomID != b.RoomID ||
		ay != by || am != bm || ad != bd
}

// Query builds the availability query for the current step-one fields.
func (w *Wizard) Query() (SlotQuery, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queryLocked()
}

func (w *Wizard) queryLocked() (SlotQuery, error) {
	if w.draft.CenterID == 0 {
		return SlotQuery{}, ErrCenterRequired
	}
	q := SlotQuery{
		DurationMinutes: w.draft.DurationMinutes,
		CenterID:        w.draft.CenterID,
		RoomID:          w.draft.RoomID,
		ProfessionalID:  w.draft.ResponsibleID,
	}
	return q.Normalize(w.draft.Date, w.loc), nil
}

// SearchSlots runs the availability query and applies the result only if no
// newer search started and the wizard is still open. Superseded searches
// are cancelled and return ErrStaleResult.
func (w *Wizard) SearchSlots(ctx context.Context, searcher SlotSearcher) ([]Slot, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWizardClosed
	}
	q, err := w.queryLocked()
	if err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.invalidateSearchLocked()
	gen := w.searchGen
	searchCtx, cancel := context.WithCancel(ctx)
	w.cancelSearch = cancel
	w.mu.Unlock()

	slots, searchErr := searcher.Search(searchCtx, q)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || gen != w.searchGen {
		cancel()
		return nil, ErrStaleResult
	}
	cancel()
	w.cancelSearch = nil
	if searchErr != nil {
		w.slots = nil
		return nil, searchErr
	}
	w.slots = append([]Slot(nil), slots...)
	return append([]Slot(nil), slots...), nil
}

func (w *Wizard) invalidateSearchLocked() {
	w.searchGen++
	if w.cancelSearch != nil {
		w.cancelSearch()
		w.cancelSearch = nil
	}
}

// SelectSlot picks a slot from the last search result by index.
func (w *Wizard) SelectSlot(index int) (Slot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepProcedure); err != nil {
		return Slot{}, err
	}
	if index < 0 || index >= len(w.slots) {
		return Slot{}, ErrUnknownSlot
	}
	slot := w.slots[index]
	w.draft.ApplySelection(slot)
	w.touchLocked()
	return slot, nil
}

// Next advances the wizard. Leaving step one needs the step-one fields and a
// selected slot. Leaving step two runs the validation gate; a rejected draft
// stays on step two and the result is returned with ErrValidationRejected.
func (w *Wizard) Next(ctx context.Context, validator Validator) (*ValidationResult, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWizardClosed
	}
	switch w.step {
	case StepProcedure:
		defer w.mu.Unlock()
		if err := w.draft.ProcedureReady(); err != nil {
			return nil, err
		}
		w.step = StepStaff
		w.updatedAt = w.now()
		return nil, nil
	case StepStaff:
		w.mu.Unlock()
		result, err := w.Validate(ctx, validator)
		if err != nil {
			return result, err
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.closed {
			return result, ErrWizardClosed
		}
		if w.step != StepStaff || w.validatedRev != w.revision {
			return result, fmt.Errorf("%w: draft changed during validation", ErrInvalidTransition)
		}
		w.step = StepResources
		w.updatedAt = w.now()
		return result, nil
	default:
		step := w.step
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot advance from %s", ErrInvalidTransition, step)
	}
}

// Back returns to the previous step keeping every field.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	switch w.step {
	case StepStaff:
		w.step = StepProcedure
	case StepResources:
		w.step = StepStaff
	default:
		return fmt.Errorf("%w: cannot go back from %s", ErrInvalidTransition, w.step)
	}
	w.updatedAt = w.now()
	return nil
}

// Validate submits the draft to the remote check. An incomplete draft is
// refused locally. A rejection is returned as a result together with
// ErrValidationRejected.
func (w *Wizard) Validate(ctx context.Context, validator Validator) (*ValidationResult, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWizardClosed
	}
	if err := w.draft.Submittable(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	payload := w.draft.Payload()
	rev := w.revision
	w.mu.Unlock()

	result, err := validator.Validate(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("scheduling: validate draft: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return &result, ErrWizardClosed
	}
	w.lastValidation = &result
	if !result.OK {
		if w.validatedRev == rev {
			w.validatedRev = 0
		}
		return &result, ErrValidationRejected
	}
	if rev == w.revision {
		w.validatedRev = rev
	}
	return &result, nil
}

// Validated reports whether the current draft revision passed validation.
func (w *Wizard) Validated() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.validatedRev != 0 && w.validatedRev == w.revision
}

// LastValidation returns the most recent validation outcome, if any.
func (w *Wizard) LastValidation() *ValidationResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastValidation == nil {
		return nil
	}
	v := *w.lastValidation
	return &v
}

// PrepareSubmit returns the payload to persist. It must be called on the
// resources step; a draft edited since its last passing validation is
// validated again first.
func (w *Wizard) PrepareSubmit(ctx context.Context, validator Validator) (Payload, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return Payload{}, ErrWizardClosed
	}
	if w.step != StepResources {
		step := w.step
		w.mu.Unlock()
		return Payload{}, fmt.Errorf("%w: cannot submit from %s", ErrInvalidTransition, step)
	}
	fresh := w.validatedRev != 0 && w.validatedRev == w.revision
	w.mu.Unlock()

	if !fresh {
		if _, err := w.Validate(ctx, validator); err != nil {
			return Payload{}, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return Payload{}, ErrWizardClosed
	}
	if w.validatedRev != w.revision {
		return Payload{}, ErrNotValidated
	}
	return w.draft.Payload(), nil
}

// MarkSubmitted records the persisted booking and discards the draft.
func (w *Wizard) MarkSubmitted(bookingID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.invalidateSearchLocked()
	w.bookingID = bookingID
	w.step = StepSubmitted
	w.closed = true
	w.draft = BookingDraft{}
	w.slots = nil
	w.touchLocked()
}

// BookingID is set once the draft was submitted.
func (w *Wizard) BookingID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bookingID
}

// Cancel discards the draft and aborts any in-flight search.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.invalidateSearchLocked()
	w.closed = true
	w.draft = BookingDraft{}
	w.slots = nil
	w.lastValidation = nil
	w.touchLocked()
}

// AddProfessionals merges picked staff into the draft.
func (w *Wizard) AddProfessionals(picked ...Professional) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepStaff); err != nil {
		return nil, err
	}
	w.draft.MergeProfessionals(picked...)
	w.touchLocked()
	return w.draft.ProfessionalIDs(), nil
}

func (w *Wizard) RemoveProfessional(id int64) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepStaff); err != nil {
		return nil, err
	}
	w.draft.RemoveProfessional(id)
	w.touchLocked()
	return w.draft.ProfessionalIDs(), nil
}

// AddResources merges picked equipment into the draft.
func (w *Wizard) AddResources(picked ...Resource) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepResources); err != nil {
		return nil, err
	}
	w.draft.MergeResources(picked...)
	w.touchLocked()
	return w.draft.ResourceIDs(), nil
}

func (w *Wizard) RemoveResource(id int64) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepResources); err != nil {
		return nil, err
	}
	w.draft.RemoveResource(id)
	w.touchLocked()
	return w.draft.ResourceIDs(), nil
}

// AddItem requests a disposable item and returns the stored line.
func (w *Wizard) AddItem(item ItemRequest) (ItemRequest, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepResources); err != nil {
		return ItemRequest{}, err
	}
	if err := w.draft.AddItem(item); err != nil {
		return ItemRequest{}, err
	}
	w.touchLocked()
	for _, it := range w.draft.Items {
		if it.ItemTypeID == item.ItemTypeID {
			return it, nil
		}
	}
	return ItemRequest{}, ErrOutOfStock
}

// SetItemQuantity edits a requested quantity and returns the clamped value.
func (w *Wizard) SetItemQuantity(itemTypeID int64, quantity int) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepResources); err != nil {
		return 0, err
	}
	q, ok := w.draft.SetItemQuantity(itemTypeID, quantity)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrItemNotInDraft, itemTypeID)
	}
	w.touchLocked()
	return q, nil
}

func (w *Wizard) RemoveItem(itemTypeID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.requireStep(StepResources); err != nil {
		return err
	}
	w.draft.RemoveItem(itemTypeID)
	w.touchLocked()
	return nil
}

func (w *Wizard) requireStep(step Step) error {
	if w.closed {
		return ErrWizardClosed
	}
	if w.step != step {
		return fmt.Errorf("%w: wizard is on %s, not %s", ErrInvalidTransition, w.step, step)
	}
	return nil
}

// touchLocked records a draft change.
func (w *Wizard) touchLocked() {
	w.revision++
	w.updatedAt = w.now()
}

func copyDraft(d BookingDraft) BookingDraft {
	out := d
	if d.Selection != nil {
		s := *d.Selection
		out.Selection = &s
	}
	out.Professionals = append([]Professional(nil), d.Professionals...)
	out.Resources = append([]Resource(nil), d.Resources...)
	out.Items = append([]ItemRequest(nil), d.Items...)
	return out
}
