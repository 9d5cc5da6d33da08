// Package booking defines the contract every hospital scheduling backend
// implements (the remote HTTP API and the in-process mock), so the wizard,
// calendar and reference cache can run against either.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/or-scheduler/internal/scheduling"
)

// ErrNotFound is matched by backend errors for unknown bookings, rooms or items.
var ErrNotFound = errors.New("booking: not found")

// ErrOutcomeUnknown means a create request may have reached the backend but
// no answer came back, so whether the booking exists is unknown.
var ErrOutcomeUnknown = errors.New("booking: create outcome unknown")

// ProfessionalFilter narrows the staff search of step two.
type ProfessionalFilter struct {
	Window      scheduling.Window
	Internal    *bool
	SpecialtyID int64
	Name        string
}

// ResourceFilter narrows the equipment and disposable search of step three.
type ResourceFilter struct {
	Window     scheduling.Window
	GroupID    int64
	External   *bool
	Disposable *bool
	Name       string
}

// BookingFilter selects calendar rows. CenterID and RoomIDs use the booking
// backend's own ids.
type BookingFilter struct {
	Date     string
	CenterID string
	RoomIDs  []string
}

// ReferenceSource lists the immutable lookup tables.
type ReferenceSource interface {
	Centers(ctx context.Context) ([]scheduling.Center, error)
	// Rooms returns the rooms of centerID, or every room when centerID is zero.
	Rooms(ctx context.Context, centerID int64) ([]scheduling.Room, error)
}

// AvailabilitySource answers open-slot queries.
type AvailabilitySource interface {
	Slots(ctx context.Context, q scheduling.SlotQuery) ([]scheduling.Slot, error)
}

// StaffSource searches professionals.
type StaffSource interface {
	Professionals(ctx context.Context, f ProfessionalFilter) ([]scheduling.Professional, error)
}

// ResourceSource searches equipment and reports disposable stock.
type ResourceSource interface {
	Resources(ctx context.Context, f ResourceFilter) ([]scheduling.Resource, error)
	ItemStock(ctx context.Context, itemTypeID int64) (int, error)
}

// Submitter persists a validated draft. The idempotency key is forwarded to
// the backend untouched.
type Submitter interface {
	CreateBooking(ctx context.Context, payload scheduling.Payload, idempotencyKey string) (scheduling.SubmitResult, error)
}

// CalendarSource lists bookings and changes their status.
type CalendarSource interface {
	Bookings(ctx context.Context, f BookingFilter) ([]scheduling.Booking, error)
	// CalendarRooms returns every room with the booking backend's string ids.
	CalendarRooms(ctx context.Context) ([]scheduling.Room, error)
	UpdateStatus(ctx context.Context, bookingID string, status scheduling.BookingStatus) error
}

// Backend is the complete hospital scheduling contract.
type Backend interface {
	// Name returns the backend identifier ("remote", "mock").
	Name() string

	ReferenceSource
	AvailabilitySource
	StaffSource
	ResourceSource
	scheduling.Validator
	Submitter
	CalendarSource
}

// Matches applies the filter to one booking. centerRooms is the room set of
// the filtered center, nil when no center is selected. Dates compare in loc.
func (f BookingFilter) Matches(b scheduling.Booking, centerRooms map[string]struct{}, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	if f.Date != "" && b.Start.In(loc).Format("2006-01-02") != f.Date {
		return false
	}
	if centerRooms != nil {
		if _, ok := centerRooms[b.RoomID]; !ok {
			return false
		}
	}
	if len(f.RoomIDs) > 0 {
		found := false
		for _, id := range f.RoomIDs {
			if id == b.RoomID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
