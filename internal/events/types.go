package events

import "time"

const (
	TypeBookingCreated       = "booking.created.v1"
	TypeBookingStatusChanged = "booking.status_changed.v1"
)

// BookingCreatedV1 is emitted once a wizard draft has been persisted by the
// hospital backend.
type BookingCreatedV1 struct {
	BookingID       int64     `json:"booking_id"`
	WizardID        string    `json:"wizard_id"`
	IdempotencyKey  string    `json:"idempotency_key"`
	PatientID       *int64    `json:"patient_id,omitempty"`
	ResponsibleID   *int64    `json:"responsible_professional_id,omitempty"`
	ProcedureName   string    `json:"procedure_name,omitempty"`
	RoomID          *int64    `json:"room_id,omitempty"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	ProfessionalIDs []int64   `json:"professional_ids"`
	ResourceIDs     []int64   `json:"resource_ids"`
	ItemCount       int       `json:"item_count"`
	CreatedAt       time.Time `json:"created_at"`
}

func (BookingCreatedV1) EventType() string { return TypeBookingCreated }

// BookingStatusChangedV1 is emitted after a calendar status update.
type BookingStatusChangedV1 struct {
	BookingID string    `json:"booking_id"`
	Status    string    `json:"status"`
	ChangedBy string    `json:"changed_by,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

func (BookingStatusChangedV1) EventType() string { return TypeBookingStatusChanged }
