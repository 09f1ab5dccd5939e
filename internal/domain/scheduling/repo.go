package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists availability and appointments for the scheduler.
//
// Lookups of optional rows (profile, weekly row, override) return nil and no
// error when the row does not exist. Appointment lookups return ErrNotFound.
type Repository interface {
	// WithinTx runs fn as one atomic unit. Repository calls made with the
	// context passed to fn join the unit; nested calls reuse it.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetDoctorProfile(ctx context.Context, doctorID uuid.UUID) (*Doctor, error)
	UpsertDoctorProfile(ctx context.Context, d *Doctor) error

	GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WeeklyAvailability, error)
	ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyAvailability, error)
	UpsertWeeklyAvailability(ctx context.Context, w *WeeklyAvailability) error

	GetDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) (*DateOverride, error)
	ListDateOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*DateOverride, error)
	UpsertDateOverride(ctx context.Context, o *DateOverride) error
	DeleteDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) error

	// GetActiveAppointments returns the calendar-holding appointments of a
	// doctor on a date ordered by start time.
	GetActiveAppointments(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error)
	// ConditionalInsertAppointment inserts a only if no calendar-holding
	// appointment of the same doctor and date overlaps it. Otherwise it
	// returns ErrSlotConflict and writes nothing.
	ConditionalInsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointmentStatus moves an appointment from one status to
	// another. It fails without writing when the stored status is not from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error)
	// UpdateAppointmentDetails applies d while the appointment is not in a
	// terminal status. Otherwise it fails without writing.
	UpdateAppointmentDetails(ctx context.Context, id uuid.UUID, d AppointmentDetails) (*Appointment, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
}
