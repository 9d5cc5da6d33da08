// Package scheduling holds the operating-room booking domain: reference
// entities, availability slots, the booking draft built by the wizard, and
// the wizard state machine itself.
package scheduling

import (
	"encoding/json"
	"time"
)

// Placeholder is rendered for room or professional names the backend did not supply.
const Placeholder = "-"

// Center is a surgical center. Immutable once loaded.
type Center struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	Location   string `json:"location,omitempty"`
	Type       string `json:"type,omitempty"`
	Manager    string `json:"manager,omitempty"`
}

// Room is an operating room inside a center. Immutable once loaded.
type Room struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	CenterID   int64  `json:"center_id"`
	// CenterExternalID is the backend-native center id the room belongs to.
	CenterExternalID string `json:"center_external_id,omitempty"`
}

// Slot is an open time window returned by an availability query.
type Slot struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Score            float64   `json:"score,omitempty"`
	RoomID           int64     `json:"room_id,omitempty"`
	RoomName         string    `json:"room_name,omitempty"`
	ProfessionalID   int64     `json:"professional_id,omitempty"`
	ProfessionalName string    `json:"professional_name,omitempty"`
}

// DisplayRoom returns the room name or the placeholder.
func (s Slot) DisplayRoom() string {
	if s.RoomName == "" {
		return Placeholder
	}
	return s.RoomName
}

// DisplayProfessional returns the professional name or the placeholder.
func (s Slot) DisplayProfessional() string {
	if s.ProfessionalName == "" {
		return Placeholder
	}
	return s.ProfessionalName
}

type Specialty struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Professional is a staff member that can be attached to a booking.
type Professional struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Internal    bool        `json:"internal"`
	Available   bool        `json:"available"`
	Reason      string      `json:"reason,omitempty"`
	Specialties []Specialty `json:"specialties,omitempty"`
}

// GetID implements Identified.
func (p Professional) GetID() int64 { return p.ID }

// HasSpecialty reports whether the professional carries the given specialty.
func (p Professional) HasSpecialty(id int64) bool {
	for _, s := range p.Specialties {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Resource is a piece of equipment or, when Disposable is set, a stock item.
type Resource struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	External   bool   `json:"external"`
	Available  bool   `json:"available"`
	Reason     string `json:"reason,omitempty"`
	GroupID    int64  `json:"group_id,omitempty"`
	Disposable bool   `json:"disposable,omitempty"`
	Stock      int    `json:"stock,omitempty"`
	Unit       string `json:"unit,omitempty"`
}

// GetID implements Identified.
func (r Resource) GetID() int64 { return r.ID }

// ItemRequest is a disposable item requested for a booking.
type ItemRequest struct {
	ItemTypeID int64  `json:"item_type_id"`
	Name       string `json:"name,omitempty"`
	Unit       string `json:"unit,omitempty"`
	Quantity   int    `json:"quantity"`
	// Available is the stock figure returned when the item was queried.
	Available int `json:"available"`
}

// GetID implements Identified.
func (i ItemRequest) GetID() int64 { return i.ItemTypeID }

// BookingStatus is the lifecycle state of a calendar booking.
type BookingStatus string

const (
	StatusScheduled  BookingStatus = "SCHEDULED"
	StatusInProgress BookingStatus = "IN_PROGRESS"
	StatusCompleted  BookingStatus = "COMPLETED"
	StatusCanceled   BookingStatus = "CANCELED"
)

// Valid reports whether s is a known status.
func (s BookingStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	}
	return false
}

// StatusAt derives a status from the booking window when the backend sends none.
func StatusAt(start, end, now time.Time) BookingStatus {
	switch {
	case !now.Before(start) && now.Before(end):
		return StatusInProgress
	case !now.Before(end):
		return StatusCompleted
	default:
		return StatusScheduled
	}
}

type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// TeamMember is a professional assigned to a calendar booking.
type TeamMember struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
	// Type is OWNED for hospital staff and THIRD_PARTY otherwise.
	Type string `json:"type,omitempty"`
}

// HasRole reports whether the member carries role.
func (m TeamMember) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Booking is a persisted surgery as rendered by the calendar.
type Booking struct {
	ID          string        `json:"id"`
	RoomID      string        `json:"room_id"`
	Title       string        `json:"title"`
	DoctorName  string        `json:"doctor_name"`
	PatientName string        `json:"patient_name,omitempty"`
	SurgeryType string        `json:"surgery_type,omitempty"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	Urgency     Urgency       `json:"urgency"`
	Status      BookingStatus `json:"status"`
	Team        []TeamMember  `json:"team,omitempty"`
}

// Overlaps reports whether the booking intersects [start, end).
func (b Booking) Overlaps(start, end time.Time) bool {
	return b.Start.Before(end) && start.Before(b.End)
}

// Suggestion is an alternative window proposed by the validation backend.
type Suggestion struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ValidationResult is the outcome of the remote draft check. Conflicts are
// passed through untouched.
type ValidationResult struct {
	OK          bool            `json:"ok"`
	Conflicts   json.RawMessage `json:"conflicts,omitempty"`
	Suggestions []Suggestion    `json:"suggestions,omitempty"`
}

// SubmitResult carries the id of the persisted booking.
type SubmitResult struct {
	BookingID int64 `json:"booking_id"`
	Duplicate bool  `json:"duplicate,omitempty"`
}

// ItemLine is the wire form of a requested disposable item.
type ItemLine struct {
	ItemTypeID int64 `json:"item_type_id"`
	Quantity   int   `json:"quantity"`
}

// Payload is the finalized draft sent to validate and submit.
type Payload struct {
	PatientID       *int64     `json:"patient_id"`
	ResponsibleID   *int64     `json:"responsible_professional_id"`
	ProcedureName   string     `json:"procedure_name,omitempty"`
	RoomID          *int64     `json:"room_id"`
	Start           *time.Time `json:"start"`
	End             *time.Time `json:"end"`
	ProfessionalIDs []int64    `json:"professional_ids"`
	ResourceIDs     []int64    `json:"resource_ids"`
	Items           []ItemLine `json:"items"`
}
