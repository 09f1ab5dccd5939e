package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// maxOverrideRange caps how many days one override listing may span.
const maxOverrideRange = 366

// Changing availability never touches existing appointments; bookings that
// fall outside a narrowed window stay until cancelled or rescheduled.

func (s *Service) SetDoctorProfile(ctx context.Context, d *Doctor) error {
	if d.ID == uuid.Nil {
		return fmt.Errorf("%w: doctor is required", ErrInvalidInput)
	}
	if d.SlotMinutes <= 0 || d.SlotMinutes > MinutesPerDay {
		return fmt.Errorf("%w: slot_minutes must be between 1 and %d", ErrInvalidInput, MinutesPerDay)
	}
	if d.TimeZone == "" {
		d.TimeZone = s.loc.String()
	}
	if _, err := d.Location(); err != nil {
		return err
	}
	if err := s.repo.UpsertDoctorProfile(ctx, d); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", d.ID.String()).Int("slot_minutes", d.SlotMinutes).
		Str("time_zone", d.TimeZone).Msg("scheduling profile updated")
	return nil
}

func (s *Service) WeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyAvailability, error) {
	return s.repo.ListWeeklyAvailability(ctx, doctorID)
}

// SetWeeklyAvailability replaces the template row of one weekday.
func (s *Service) SetWeeklyAvailability(ctx context.Context, w *WeeklyAvailability) error {
	if w.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor is required", ErrInvalidInput)
	}
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d", ErrInvalidInput, w.Weekday)
	}
	if !w.StartTime.Valid() || !w.EndTime.Valid() {
		return fmt.Errorf("%w: times must lie within the day", ErrInvalidInput)
	}
	if w.IsAvailable && w.StartTime >= w.EndTime {
		return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidInput)
	}
	if err := s.repo.UpsertWeeklyAvailability(ctx, w); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", w.DoctorID.String()).Str("weekday", w.Weekday.String()).
		Bool("is_available", w.IsAvailable).Msg("weekly availability updated")
	return nil
}

// SetWeeklySchedule replaces several weekday rows of one doctor at once.
// Either every row is written or none is.
func (s *Service) SetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, rows []*WeeklyAvailability) error {
	seen := make(map[time.Weekday]bool, len(rows))
	for _, w := range rows {
		w.DoctorID = doctorID
		if seen[w.Weekday] {
			return fmt.Errorf("%w: weekday %s listed twice", ErrInvalidInput, w.Weekday)
		}
		seen[w.Weekday] = true
	}
	return s.repo.WithinTx(ctx, func(ctx context.Context) error {
		for _, w := range rows {
			if err := s.SetWeeklyAvailability(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) DateOverride(ctx context.Context, doctorID uuid.UUID, date Date) (*DateOverride, error) {
	o, err := s.repo.GetDateOverride(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("%w: override for %s", ErrNotFound, date)
	}
	return o, nil
}

func (s *Service) ListDateOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*DateOverride, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, fmt.Errorf("%w: a valid from/to range is required", ErrInvalidInput)
	}
	if from.AddDays(maxOverrideRange).Before(to) {
		return nil, fmt.Errorf("%w: range longer than %d days", ErrInvalidInput, maxOverrideRange)
	}
	return s.repo.ListDateOverrides(ctx, doctorID, from, to)
}

// SetDateOverride replaces the availability of one date. A closed override
// drops any times it was given.
func (s *Service) SetDateOverride(ctx context.Context, o *DateOverride) error {
	if o.DoctorID == uuid.Nil || o.Date.IsZero() {
		return fmt.Errorf("%w: doctor and date are required", ErrInvalidInput)
	}
	if !o.IsAvailable {
		o.StartTime, o.EndTime = nil, nil
	} else {
		if o.StartTime == nil || o.EndTime == nil {
			return fmt.Errorf("%w: an open override needs start_time and end_time", ErrInvalidInput)
		}
		if !o.StartTime.Valid() || !o.EndTime.Valid() || *o.StartTime >= *o.EndTime {
			return fmt.Errorf("%w: start_time must be before end_time", ErrInvalidInput)
		}
	}
	if err := s.repo.UpsertDateOverride(ctx, o); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", o.DoctorID.String()).Str("date", o.Date.String()).
		Bool("is_available", o.IsAvailable).Msg("date override set")
	return nil
}

func (s *Service) ClearDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) error {
	if err := s.repo.DeleteDateOverride(ctx, doctorID, date); err != nil {
		return err
	}
	s.logger.Info().Str("doctor_id", doctorID.String()).Str("date", date.String()).Msg("date override cleared")
	return nil
}
