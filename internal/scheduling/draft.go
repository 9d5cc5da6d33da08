package scheduling

import (
	"strconv"
	"strings"
	"time"
)

// BookingDraft accumulates the booking across the three wizard steps.
// It is not safe for concurrent use; Wizard guards it.
type BookingDraft struct {
	PatientID       string         `json:"patient_id,omitempty"`
	ProcedureName   string         `json:"procedure_name,omitempty"`
	DurationMinutes int            `json:"duration_minutes,omitempty"`
	Date            time.Time      `json:"date,omitempty"`
	CenterID        int64          `json:"center_id,omitempty"`
	ResponsibleID   int64          `json:"responsible_id,omitempty"`
	RoomID          int64          `json:"room_id,omitempty"`
	Selection       *Slot          `json:"selection,omitempty"`
	Professionals   []Professional `json:"professionals,omitempty"`
	Resources       []Resource     `json:"resources,omitempty"`
	Items           []ItemRequest  `json:"items,omitempty"`
}

// ApplySelection stores the chosen slot.
func (d *BookingDraft) ApplySelection(slot Slot) {
	s := slot
	d.Selection = &s
}

// ClearSelection forgets the chosen slot.
func (d *BookingDraft) ClearSelection() {
	d.Selection = nil
}

// Start is the booking start derived from the selected slot.
func (d *BookingDraft) Start() *time.Time {
	if d.Selection == nil || d.Selection.Start.IsZero() {
		return nil
	}
	start := d.Selection.Start
	return &start
}

// End is the selected start plus the procedure duration, not the slot end.
func (d *BookingDraft) End() *time.Time {
	start := d.Start()
	if start == nil || d.DurationMinutes <= 0 {
		return nil
	}
	end := start.Add(time.Duration(d.DurationMinutes) * time.Minute)
	return &end
}

// EffectiveRoomID prefers the room chosen in step one over the slot's room.
func (d *BookingDraft) EffectiveRoomID() int64 {
	if d.RoomID != 0 {
		return d.RoomID
	}
	if d.Selection != nil {
		return d.Selection.RoomID
	}
	return 0
}

// MergeProfessionals adds picked professionals without duplicates.
func (d *BookingDraft) MergeProfessionals(picked ...Professional) {
	d.Professionals = MergeByID(d.Professionals, picked...)
}

func (d *BookingDraft) RemoveProfessional(id int64) {
	d.Professionals = RemoveByID(d.Professionals, id)
}

// MergeResources adds picked equipment without duplicates.
func (d *BookingDraft) MergeResources(picked ...Resource) {
	d.Resources = MergeByID(d.Resources, picked...)
}

func (d *BookingDraft) RemoveResource(id int64) {
	d.Resources = RemoveByID(d.Resources, id)
}

// AddItem requests a disposable item. The quantity is clamped to the
// availability reported with the item; an item with no stock is refused.
// Adding an item type already present replaces its quantity and stock figure.
func (d *BookingDraft) AddItem(item ItemRequest) error {
	if item.Available <= 0 {
		return ErrOutOfStock
	}
	item.Quantity = ClampQuantity(item.Quantity, item.Available)
	for i := range d.Items {
		if d.Items[i].ItemTypeID == item.ItemTypeID {
			d.Items[i] = item
			return nil
		}
	}
	d.Items = append(d.Items, item)
	return nil
}

// SetItemQuantity edits a requested quantity, clamped to the known stock.
func (d *BookingDraft) SetItemQuantity(itemTypeID int64, quantity int) (int, bool) {
	for i := range d.Items {
		if d.Items[i].ItemTypeID == itemTypeID {
			d.Items[i].Quantity = ClampQuantity(quantity, d.Items[i].Available)
			return d.Items[i].Quantity, true
		}
	}
	return 0, false
}

func (d *BookingDraft) RemoveItem(itemTypeID int64) {
	d.Items = RemoveByID(d.Items, itemTypeID)
}

// ProfessionalIDs is the responsible professional followed by the
// participants, zero ids dropped and repeats collapsed.
func (d *BookingDraft) ProfessionalIDs() []int64 {
	ids := make([]int64, 0, len(d.Professionals)+1)
	ids = append(ids, d.ResponsibleID)
	ids = append(ids, IDs(d.Professionals)...)
	return UniqueIDs(ids...)
}

// ResourceIDs returns the picked equipment ids in insertion order.
func (d *BookingDraft) ResourceIDs() []int64 {
	return UniqueIDs(IDs(d.Resources)...)
}

// Responsible returns the explicit responsible professional, falling back
// to the first participant.
func (d *BookingDraft) Responsible() int64 {
	ids := d.ProfessionalIDs()
	if len(ids) == 0 {
		return 0
	}
	return ids[0]
}

// ProcedureReady reports the step-one fields still missing.
func (d *BookingDraft) ProcedureReady() error {
	var missing []string
	if strings.TrimSpace(d.PatientID) == "" {
		missing = append(missing, "patient_id")
	}
	if strings.TrimSpace(d.ProcedureName) == "" {
		missing = append(missing, "procedure_name")
	}
	if d.DurationMinutes <= 0 {
		missing = append(missing, "duration")
	}
	if d.CenterID == 0 {
		missing = append(missing, "center_id")
	}
	if d.Selection == nil {
		missing = append(missing, "slot")
	}
	if len(missing) > 0 {
		return &IncompleteDraftError{Missing: missing}
	}
	return nil
}

// Submittable returns nil when the draft carries everything a booking needs.
func (d *BookingDraft) Submittable() error {
	var missing []string
	if strings.TrimSpace(d.PatientID) == "" {
		missing = append(missing, "patient_id")
	}
	if strings.TrimSpace(d.ProcedureName) == "" {
		missing = append(missing, "procedure_name")
	}
	if d.EffectiveRoomID() == 0 {
		missing = append(missing, "room_id")
	}
	if d.Start() == nil {
		missing = append(missing, "start")
	}
	if d.End() == nil {
		missing = append(missing, "end")
	}
	if len(d.ProfessionalIDs()) == 0 {
		missing = append(missing, "responsible_professional")
	}
	if len(missing) > 0 {
		return &IncompleteDraftError{Missing: missing}
	}
	return nil
}

// Payload renders the draft for the validate and submit calls.
func (d *BookingDraft) Payload() Payload {
	p := Payload{
		ProcedureName:   strings.TrimSpace(d.ProcedureName),
		Start:           d.Start(),
		End:             d.End(),
		ProfessionalIDs: d.ProfessionalIDs(),
		ResourceIDs:     d.ResourceIDs(),
		Items:           make([]ItemLine, 0, len(d.Items)),
	}
	if id, err := strconv.ParseInt(strings.TrimSpace(d.PatientID), 10, 64); err == nil {
		p.PatientID = &id
	}
	if id := d.Responsible(); id != 0 {
		p.ResponsibleID = &id
	}
	if id := d.EffectiveRoomID(); id != 0 {
		p.RoomID = &id
	}
	for _, item := range d.Items {
		p.Items = append(p.Items, ItemLine{ItemTypeID: item.ItemTypeID, Quantity: item.Quantity})
	}
	return p
}
