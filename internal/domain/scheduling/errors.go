package scheduling

import "errors"

var (
	// ErrInvalidInput marks a request rejected before the repository is touched.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOutOfAvailability means the interval is not inside the doctor's effective window.
	ErrOutOfAvailability = errors.New("outside doctor availability")
	// ErrSlotConflict means the interval overlaps a calendar-holding appointment.
	ErrSlotConflict = errors.New("slot already booked")
	// ErrInvalidTransition means the lifecycle forbids the requested change.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")

	// errStatusChanged is returned by repositories when a conditional status
	// update finds the row no longer in the expected status.
	errStatusChanged = errors.New("appointment status changed")
)
