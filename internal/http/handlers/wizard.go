package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/or-scheduler/internal/availability"
	"github.com/wolfman30/or-scheduler/internal/booking"
	"github.com/wolfman30/or-scheduler/internal/bookings"
	"github.com/wolfman30/or-scheduler/internal/scheduling"
	"github.com/wolfman30/or-scheduler/pkg/logging"
)

type wizardSessions interface {
	Open(ctx context.Context) (*scheduling.Wizard, error)
	Get(ctx context.Context, id string) (*scheduling.Wizard, error)
	Save(ctx context.Context, w *scheduling.Wizard) error
}

type submissionService interface {
	Submit(ctx context.Context, wizardID string, payload scheduling.Payload, key string) (scheduling.SubmitResult, error)
}

type WizardConfig struct {
	Sessions    wizardSessions
	Slots       scheduling.SlotSearcher
	Staff       booking.StaffSource
	Resources   booking.ResourceSource
	Gate        *bookings.Gate
	Submissions submissionService
	Location    *time.Location
	Logger      *logging.Logger
}

// WizardHandler drives booking wizards over HTTP. Every mutation is
// persisted to the session store before responding.
type WizardHandler struct {
	sessions    wizardSessions
	slots       scheduling.SlotSearcher
	staff       booking.StaffSource
	resources   booking.ResourceSource
	gate        *bookings.Gate
	submissions submissionService
	loc         *time.Location
	logger      *logging.Logger
}

func NewWizardHandler(cfg WizardConfig) *WizardHandler {
	if cfg.Sessions == nil || cfg.Slots == nil || cfg.Staff == nil || cfg.Resources == nil || cfg.Gate == nil || cfg.Submissions == nil {
		panic("handlers: wizard handler dependencies required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &WizardHandler{
		sessions:    cfg.Sessions,
		slots:       cfg.Slots,
		staff:       cfg.Staff,
		resources:   cfg.Resources,
		gate:        cfg.Gate,
		submissions: cfg.Submissions,
		loc:         cfg.Location,
		logger:      cfg.Logger.Component("wizard_handler"),
	}
}

type slotView struct {
	Index          int       `json:"index"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Score          float64   `json:"score,omitempty"`
	RoomID         int64     `json:"room_id,omitempty"`
	Room           string    `json:"room"`
	ProfessionalID int64     `json:"professional_id,omitempty"`
	Professional   string    `json:"professional"`
}

func slotViews(slots []scheduling.Slot) []slotView {
	out := make([]slotView, 0, len(slots))
	for i, s := range slots {
		out = append(out, slotView{
			Index:          i,
			Start:          s.Start,
			End:            s.End,
			Score:          s.Score,
			RoomID:         s.RoomID,
			Room:           s.DisplayRoom(),
			ProfessionalID: s.ProfessionalID,
			Professional:   s.DisplayProfessional(),
		})
	}
	return out
}

type wizardResponse struct {
	Wizard     scheduling.WizardState       `json:"wizard"`
	Validation *scheduling.ValidationResult `json:"validation,omitempty"`
}

type rejectionResponse struct {
	Error      string                       `json:"error"`
	Validation *scheduling.ValidationResult `json:"validation"`
	Wizard     scheduling.WizardState       `json:"wizard"`
}

func (h *WizardHandler) load(w http.ResponseWriter, r *http.Request) (*scheduling.Wizard, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		jsonError(w, "missing wizard id", http.StatusBadRequest)
		return nil, false
	}
	wiz, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		if statusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("load wizard failed", "error", err, "wizard_id", id)
		}
		writeDomainError(w, err)
		return nil, false
	}
	return wiz, true
}

func (h *WizardHandler) persist(ctx context.Context, wiz *scheduling.Wizard) {
	if err := h.sessions.Save(ctx, wiz); err != nil {
		h.logger.Error("save wizard failed", "error", err, "wizard_id", wiz.ID())
	}
}

func (h *WizardHandler) respond(w http.ResponseWriter, r *http.Request, wiz *scheduling.Wizard, status int) {
	h.persist(r.Context(), wiz)
	writeJSON(w, status, wizardResponse{Wizard: wiz.State(), Validation: wiz.LastValidation()})
}

// fail renders a wizard error. Validation rejections carry the remote
// result so the client can show conflicts and suggestions.
func (h *WizardHandler) fail(w http.ResponseWriter, r *http.Request, wiz *scheduling.Wizard, err error) {
	if errors.Is(err, scheduling.ErrValidationRejected) {
		h.persist(r.Context(), wiz)
		writeJSON(w, http.StatusConflict, rejectionResponse{
			Error:      err.Error(),
			Validation: wiz.LastValidation(),
			Wizard:     wiz.State(),
		})
		return
	}
	if statusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("wizard operation failed", "error", err, "wizard_id", wiz.ID())
	}
	writeDomainError(w, err)
}

// Open handles POST /api/wizards.
func (h *WizardHandler) Open(w http.ResponseWriter, r *http.Request) {
	wiz, err := h.sessions.Open(r.Context())
	if err != nil {
		h.logger.Error("open wizard failed", "error", err)
		jsonError(w, "failed to open wizard", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, wizardResponse{Wizard: wiz.State()})
}

// Get handles GET /api/wizards/{id}.
func (h *WizardHandler) Get(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, wizardResponse{Wizard: wiz.State(), Validation: wiz.LastValidation()})
}

// Cancel handles DELETE /api/wizards/{id}. The closed snapshot is kept
// until the session expires so later calls answer 410.
func (h *WizardHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	wiz.Cancel()
	h.persist(r.Context(), wiz)
	w.WriteHeader(http.StatusNoContent)
}

type procedureRequest struct {
	PatientID     string  `json:"patient_id" validate:"omitempty,numeric"`
	ProcedureName string  `json:"procedure_name" validate:"max=200"`
	DurationHours float64 `json:"duration_hours" validate:"gte=0,lte=24"`
	Date          string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	CenterID      int64   `json:"center_id" validate:"gte=0"`
	ResponsibleID int64   `json:"responsible_id" validate:"gte=0"`
	RoomID        int64   `json:"room_id" validate:"gte=0"`
}

// SetProcedure handles PUT /api/wizards/{id}/procedure.
func (h *WizardHandler) SetProcedure(w http.ResponseWriter, r *http.Request) {
	var req procedureRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := scheduling.ProcedureInput{
		PatientID:     req.PatientID,
		ProcedureName: req.ProcedureName,
		DurationHours: req.DurationHours,
		CenterID:      req.CenterID,
		ResponsibleID: req.ResponsibleID,
		RoomID:        req.RoomID,
	}
	if req.Date != "" {
		day, err := scheduling.ParseDay(req.Date, h.loc)
		if err != nil {
			jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
		in.Date = day
	}

	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := wiz.SetProcedure(in); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

type slotsResponse struct {
	Slots      []slotView `json:"slots"`
	FetchError string     `json:"fetch_error,omitempty"`
}

// SearchSlots handles POST /api/wizards/{id}/slots/search. A backend
// failure answers 200 with no slots and the failure in fetch_error.
func (h *WizardHandler) SearchSlots(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	slots, err := wiz.SearchSlots(r.Context(), h.slots)
	if err != nil {
		if availability.IsFetchError(err) {
			h.logger.Warn("slot search failed", "error", err, "wizard_id", wiz.ID())
			h.persist(r.Context(), wiz)
			writeJSON(w, http.StatusOK, slotsResponse{Slots: []slotView{}, FetchError: err.Error()})
			return
		}
		h.fail(w, r, wiz, err)
		return
	}
	h.persist(r.Context(), wiz)
	writeJSON(w, http.StatusOK, slotsResponse{Slots: slotViews(slots)})
}

type selectSlotRequest struct {
	Index *int `json:"index" validate:"required,gte=0"`
}

// SelectSlot handles POST /api/wizards/{id}/slots/select.
func (h *WizardHandler) SelectSlot(w http.ResponseWriter, r *http.Request) {
	var req selectSlotRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.SelectSlot(*req.Index); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

// Next handles POST /api/wizards/{id}/next. Leaving the staff step runs
// the validation gate.
func (h *WizardHandler) Next(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.Next(r.Context(), h.gate.For(wiz.ID())); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

// Back handles POST /api/wizards/{id}/back.
func (h *WizardHandler) Back(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := wiz.Back(); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

// Validate handles POST /api/wizards/{id}/validate.
func (h *WizardHandler) Validate(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.Validate(r.Context(), h.gate.For(wiz.ID())); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

type submitResponse struct {
	BookingID int64                  `json:"booking_id"`
	Duplicate bool                   `json:"duplicate,omitempty"`
	Wizard    scheduling.WizardState `json:"wizard"`
}

// Submit handles POST /api/wizards/{id}/submit. A draft edited since its
// last passing validation is validated again first.
func (h *WizardHandler) Submit(w http.ResponseWriter, r *http.Request) {
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	payload, err := wiz.PrepareSubmit(r.Context(), h.gate.For(wiz.ID()))
	if err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	result, err := h.submissions.Submit(r.Context(), wiz.ID(), payload, wiz.IdempotencyKey())
	if err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	wiz.MarkSubmitted(result.BookingID)
	h.persist(r.Context(), wiz)

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, submitResponse{BookingID: result.BookingID, Duplicate: result.Duplicate, Wizard: wiz.State()})
}

// selectionWindow is the selected slot, or the draft day when none is set.
func (h *WizardHandler) selectionWindow(wiz *scheduling.Wizard) scheduling.Window {
	d := wiz.Draft()
	if start, end := d.Start(), d.End(); start != nil && end != nil {
		return scheduling.Window{Start: *start, End: *end}
	}
	return scheduling.DayWindow(d.Date, h.loc)
}

// SearchProfessionals handles GET /api/wizards/{id}/professionals/search.
func (h *WizardHandler) SearchProfessionals(w http.ResponseWriter, r *http.Request) {
	internal, err := boolQuery(r, "internal")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	specialty, err := int64Query(r, "specialty_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	found, err := h.staff.Professionals(r.Context(), booking.ProfessionalFilter{
		Window:      h.selectionWindow(wiz),
		Internal:    internal,
		SpecialtyID: specialty,
		Name:        strings.TrimSpace(r.URL.Query().Get("name")),
	})
	if err != nil {
		h.logger.Warn("professional search failed", "error", err, "wizard_id", wiz.ID())
		writeJSON(w, http.StatusOK, map[string]any{"professionals": []scheduling.Professional{}, "fetch_error": err.Error()})
		return
	}
	if found == nil {
		found = []scheduling.Professional{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"professionals": found})
}

type pickedProfessional struct {
	ID       int64  `json:"id" validate:"gt=0"`
	Name     string `json:"name"`
	Internal bool   `json:"internal"`
}

type addProfessionalsRequest struct {
	Professionals []pickedProfessional `json:"professionals" validate:"required,min=1,dive"`
}

// AddProfessionals handles POST /api/wizards/{id}/professionals.
func (h *WizardHandler) AddProfessionals(w http.ResponseWriter, r *http.Request) {
	var req addProfessionalsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	picked := make([]scheduling.Professional, 0, len(req.Professionals))
	for _, p := range req.Professionals {
		picked = append(picked, scheduling.Professional{ID: p.ID, Name: p.Name, Internal: p.Internal, Available: true})
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.AddProfessionals(picked...); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

// RemoveProfessional handles DELETE /api/wizards/{id}/professionals/{pid}.
func (h *WizardHandler) RemoveProfessional(w http.ResponseWriter, r *http.Request) {
	pid, err := int64Param(r, "pid")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.RemoveProfessional(pid); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

// SearchResources handles GET /api/wizards/{id}/resources/search.
func (h *WizardHandler) SearchResources(w http.ResponseWriter, r *http.Request) {
	group, err := int64Query(r, "group_id")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	external, err := boolQuery(r, "external")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	disposable, err := boolQuery(r, "disposable")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	found, err := h.resources.Resources(r.Context(), booking.ResourceFilter{
		Window:     h.selectionWindow(wiz),
		GroupID:    group,
		External:   external,
		Disposable: disposable,
		Name:       strings.TrimSpace(r.URL.Query().Get("name")),
	})
	if err != nil {
		h.logger.Warn("resource search failed", "error", err, "wizard_id", wiz.ID())
		writeJSON(w, http.StatusOK, map[string]any{"resources": []scheduling.Resource{}, "fetch_error": err.Error()})
		return
	}
	if found == nil {
		found = []scheduling.Resource{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"resources": found})
}

type pickedResource struct {
	ID       int64  `json:"id" validate:"gt=0"`
	Name     string `json:"name"`
	External bool   `json:"external"`
	GroupID  int64  `json:"group_id" validate:"gte=0"`
}

type addResourcesRequest struct {
	Resources []pickedResource `json:"resources" validate:"required,min=1,dive"`
}

// AddResources handles POST /api/wizards/{id}/resources.
func (h *WizardHandler) AddResources(w http.ResponseWriter, r *http.Request) {
	var req addResourcesRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	picked := make([]scheduling.Resource, 0, len(req.Resources))
	for _, p := range req.Resources {
		picked = append(picked, scheduling.Resource{ID: p.ID, Name: p.Name, External: p.External, GroupID: p.GroupID, Available: true})
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.AddResources(picked...); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

// RemoveResource handles DELETE /api/wizards/{id}/resources/{rid}.
func (h *WizardHandler) RemoveResource(w http.ResponseWriter, r *http.Request) {
	rid, err := int64Param(r, "rid")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if _, err := wiz.RemoveResource(rid); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}

type addItemRequest struct {
	ItemTypeID int64  `json:"item_type_id" validate:"required,gt=0"`
	Quantity   int    `json:"quantity" validate:"gte=0"`
	Name       string `json:"name"`
	Unit       string `json:"unit"`
}

// AddItem handles POST /api/wizards/{id}/items. The live stock bounds the
// requested quantity.
func (h *WizardHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	stock, err := h.resources.ItemStock(r.Context(), req.ItemTypeID)
	if err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	item, err := wiz.AddItem(scheduling.ItemRequest{
		ItemTypeID: req.ItemTypeID,
		Name:       req.Name,
		Unit:       req.Unit,
		Quantity:   req.Quantity,
		Available:  stock,
	})
	if err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.persist(r.Context(), wiz)
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "wizard": wiz.State()})
}

type itemQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// SetItemQuantity handles PUT /api/wizards/{id}/items/{itemID}.
func (h *WizardHandler) SetItemQuantity(w http.ResponseWriter, r *http.Request) {
	itemID, err := int64Param(r, "itemID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req itemQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	q, err := wiz.SetItemQuantity(itemID, req.Quantity)
	if err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.persist(r.Context(), wiz)
	writeJSON(w, http.StatusOK, map[string]any{"quantity": q, "wizard": wiz.State()})
}

// RemoveItem handles DELETE /api/wizards/{id}/items/{itemID}.
func (h *WizardHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, err := int64Param(r, "itemID")
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	wiz, ok := h.load(w, r)
	if !ok {
		return
	}
	if err := wiz.RemoveItem(itemID); err != nil {
		h.fail(w, r, wiz, err)
		return
	}
	h.respond(w, r, wiz, http.StatusOK)
}
