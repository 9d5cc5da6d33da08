package scheduling

import (
	"errors"
	"strings"
)

var (
	ErrWizardClosed       = errors.New("scheduling: wizard closed")
	ErrStepIncomplete     = errors.New("scheduling: step incomplete")
	ErrInvalidTransition  = errors.New("scheduling: invalid step transition")
	ErrStaleResult        = errors.New("scheduling: stale search result")
	ErrOutOfStock         = errors.New("scheduling: item out of stock")
	ErrUnknownSlot        = errors.New("scheduling: unknown slot")
	ErrItemNotInDraft     = errors.New("scheduling: item not in draft")
	ErrValidationRejected = errors.New("scheduling: draft rejected by validation")
	ErrNotValidated       = errors.New("scheduling: draft not validated")
	ErrInvalidPatientID   = errors.New("scheduling: patient id must be numeric")
	ErrCenterRequired     = errors.New("scheduling: center is required")
	ErrInvalidStatus      = errors.New("scheduling: invalid booking status")
)

// IncompleteDraftError lists the fields a draft still needs before it can
// be validated or submitted.
type IncompleteDraftError struct {
	Missing []string
}

func (e *IncompleteDraftError) Error() string {
	return "scheduling: draft incomplete: missing " + strings.Join(e.Missing, ", ")
}

// Is lets errors.Is(err, ErrStepIncomplete) match incomplete drafts.
func (e *IncompleteDraftError) Is(target error) bool {
	return target == ErrStepIncomplete
}
