package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/clinicops/clinic/internal/domain/scheduling"

// Service resolves availability and is the only writer of appointments.
// It keeps no mutable state between calls.
type Service struct {
	repo        Repository
	now         func() time.Time
	slotMinutes int
	loc         *time.Location
	logger      zerolog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaults sets the slot length and time zone used for doctors without a
// scheduling profile.
func WithDefaults(slotMinutes int, loc *time.Location) Option {
	return func(s *Service) {
		if slotMinutes > 0 {
			s.slotMinutes = slotMinutes
		}
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l.With().Str("component", "scheduling").Logger() }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		now:         time.Now,
		slotMinutes: DefaultDurationMinutes,
		loc:         time.UTC,
		logger:      zerolog.Nop(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "scheduling."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
	}
	span.End()
}

// DoctorProfile returns the stored profile of a doctor or the service
// defaults when none is stored.
func (s *Service) DoctorProfile(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	d, err := s.repo.GetDoctorProfile(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return &Doctor{ID: doctorID, SlotMinutes: s.slotMinutes, TimeZone: s.loc.String()}, nil
	}
	return d, nil
}

// calendar is the doctor-local view of "now" used to reject past requests.
type calendar struct {
	slotMinutes int
	loc         *time.Location
	today       Date
	now         ClockTime
}

func (s *Service) calendarFor(ctx context.Context, doctorID uuid.UUID) (*calendar, error) {
	d, err := s.DoctorProfile(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	loc, err := d.Location()
	if err != nil {
		return nil, err
	}
	now := s.now().In(loc)
	return &calendar{
		slotMinutes: d.SlotMinutes,
		loc:         loc,
		today:       DateOf(now),
		now:         Clock(now.Hour(), now.Minute()),
	}, nil
}

// duration resolves a requested length: zero means the doctor's slot length.
func (c *calendar) duration(requested int) (int, error) {
	if requested == 0 {
		requested = c.slotMinutes
	}
	if requested <= 0 || requested > MinutesPerDay {
		return 0, fmt.Errorf("%w: duration %d minutes", ErrInvalidInput, requested)
	}
	return requested, nil
}

// checkNotPast rejects intervals that start before the current minute.
func (c *calendar) checkNotPast(date Date, start ClockTime) error {
	if date.Before(c.today) || (date == c.today && start < c.now) {
		return fmt.Errorf("%w: %s %s is in the past", ErrInvalidInput, date, start)
	}
	return nil
}

func validInterval(date Date, start ClockTime, duration int) (Interval, error) {
	if date.IsZero() {
		return Interval{}, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	iv := Interval{Start: start, End: start.Add(duration)}
	if start < 0 || start >= MinutesPerDay || iv.End > MinutesPerDay {
		return Interval{}, fmt.Errorf("%w: %s does not fit in one day", ErrInvalidInput, iv)
	}
	return iv, nil
}

// window loads the effective availability of a date.
func (s *Service) window(ctx context.Context, doctorID uuid.UUID, date Date) (Interval, bool, error) {
	override, err := s.repo.GetDateOverride(ctx, doctorID, date)
	if err != nil {
		return Interval{}, false, err
	}
	var weekly *WeeklyAvailability
	if override == nil {
		if weekly, err = s.repo.GetWeeklyAvailability(ctx, doctorID, date.Weekday()); err != nil {
			return Interval{}, false, err
		}
	}
	w, open := EffectiveWindow(weekly, override)
	return w, open, nil
}

// dayState loads the three resolver inputs for a date concurrently.
func (s *Service) dayState(ctx context.Context, doctorID uuid.UUID, date Date) (Interval, bool, []Interval, error) {
	var (
		weekly   *WeeklyAvailability
		override *DateOverride
		active   []*Appointment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		weekly, err = s.repo.GetWeeklyAvailability(gctx, doctorID, date.Weekday())
		return err
	})
	g.Go(func() (err error) {
		override, err = s.repo.GetDateOverride(gctx, doctorID, date)
		return err
	})
	g.Go(func() (err error) {
		active, err = s.repo.GetActiveAppointments(gctx, doctorID, date)
		return err
	})
	if err := g.Wait(); err != nil {
		return Interval{}, false, nil, err
	}

	w, open := EffectiveWindow(weekly, override)
	occupied := make([]Interval, 0, len(active))
	for _, a := range active {
		occupied = append(occupied, a.Interval())
	}
	return w, open, occupied, nil
}

// AvailableSlots returns the open slots of a doctor on a date in
// chronological order. A durationMinutes of zero uses the doctor's slot
// length. On the current day, slots that already started are left out.
// The result is advisory: Book re-validates.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date Date, durationMinutes int) (slots []Slot, err error) {
	defer s.metrics.since("available_slots", time.Now())
	ctx, span := s.startSpan(ctx, "AvailableSlots",
		attribute.String("doctor_id", doctorID.String()), attribute.String("date", date.String()))
	defer func() { endSpan(span, err) }()

	if doctorID == uuid.Nil || date.IsZero() {
		return nil, fmt.Errorf("%w: doctor and date are required", ErrInvalidInput)
	}
	cal, err := s.calendarFor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	duration, err := cal.duration(durationMinutes)
	if err != nil {
		return nil, err
	}
	if date.Before(cal.today) {
		return nil, fmt.Errorf("%w: %s is in the past", ErrInvalidInput, date)
	}

	w, open, occupied, err := s.dayState(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if !open {
		s.metrics.observeSlots(0)
		return []Slot{}, nil
	}

	slots = ResolveSlots(w, occupied, duration)
	if date == cal.today {
		upcoming := slots[:0]
		for _, sl := range slots {
			if sl.Start >= cal.now {
				upcoming = append(upcoming, sl)
			}
		}
		slots = upcoming
	}
	s.metrics.observeSlots(len(slots))
	return slots, nil
}

// IsSlotAvailable reports whether the interval could be booked right now.
// It never writes and its answer may be stale by the time Book runs.
func (s *Service) IsSlotAvailable(ctx context.Context, doctorID uuid.UUID, date Date, start ClockTime, durationMinutes int) (bool, error) {
	if doctorID == uuid.Nil {
		return false, fmt.Errorf("%w: doctor is required", ErrInvalidInput)
	}
	cal, err := s.calendarFor(ctx, doctorID)
	if err != nil {
		return false, err
	}
	duration, err := cal.duration(durationMinutes)
	if err != nil {
		return false, err
	}
	iv, err := validInterval(date, start, duration)
	if err != nil {
		return false, err
	}
	if cal.checkNotPast(date, start) != nil {
		return false, nil
	}

	w, open, occupied, err := s.dayState(ctx, doctorID, date)
	if err != nil {
		return false, err
	}
	err = CheckInterval(w, open, occupied, iv)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrOutOfAvailability), errors.Is(err, ErrSlotConflict):
		return false, nil
	default:
		return false, err
	}
}

// BookRequest describes a new appointment. DurationMinutes of zero uses the
// doctor's slot length; an empty Type means in person.
type BookRequest struct {
	PatientID       uuid.UUID       `json:"patient_id"`
	DoctorID        uuid.UUID       `json:"doctor_id"`
	Date            Date            `json:"date"`
	StartTime       ClockTime       `json:"start_time"`
	DurationMinutes int             `json:"duration_minutes"`
	Type            AppointmentType `json:"type"`
	ReasonForVisit  *string         `json:"reason_for_visit,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
}

// Book creates a scheduled appointment. Window and overlap are re-checked
// inside one atomic unit; of two overlapping concurrent bookings exactly one
// succeeds and the other gets ErrSlotConflict.
func (s *Service) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	defer s.metrics.since("book", time.Now())
	ctx, span := s.startSpan(ctx, "Book",
		attribute.String("doctor_id", req.DoctorID.String()), attribute.String("date", req.Date.String()))
	defer func() {
		s.metrics.observeBooking("book", err)
		endSpan(span, err)
	}()

	if req.PatientID == uuid.Nil || req.DoctorID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient and doctor are required", ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = TypeInPerson
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: appointment type %q", ErrInvalidInput, req.Type)
	}
	cal, err := s.calendarFor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	duration, err := cal.duration(req.DurationMinutes)
	if err != nil {
		return nil, err
	}
	iv, err := validInterval(req.Date, req.StartTime, duration)
	if err != nil {
		return nil, err
	}
	if err := cal.checkNotPast(req.Date, req.StartTime); err != nil {
		return nil, err
	}

	appt = &Appointment{
		ID:              uuid.New(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		Date:            req.Date,
		StartTime:       iv.Start,
		DurationMinutes: duration,
		Status:          StatusScheduled,
		Type:            req.Type,
		ReasonForVisit:  req.ReasonForVisit,
		Notes:           req.Notes,
	}
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		return s.insertWithinWindow(ctx, appt)
	})
	if err != nil {
		s.logger.Debug().Err(err).
			Str("doctor_id", req.DoctorID.String()).
			Str("date", req.Date.String()).
			Str("start_time", iv.Start.String()).
			Msg("booking rejected")
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("doctor_id", appt.DoctorID.String()).
		Str("date", appt.Date.String()).
		Str("start_time", appt.StartTime.String()).
		Int("duration_minutes", appt.DurationMinutes).
		Msg("appointment booked")
	return appt, nil
}

// insertWithinWindow must run inside WithinTx.
func (s *Service) insertWithinWindow(ctx context.Context, a *Appointment) error {
	w, open, err := s.window(ctx, a.DoctorID, a.Date)
	if err != nil {
		return err
	}
	if err := CheckInterval(w, open, nil, a.Interval()); err != nil {
		return err
	}
	return s.repo.ConditionalInsertAppointment(ctx, a)
}

// Reschedule retires an appointment and books its successor at a new date
// and time in one atomic unit. The successor keeps patient, doctor,
// duration, type and notes and points back through RescheduledFrom.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, date Date, start ClockTime) (next *Appointment, err error) {
	defer s.metrics.since("reschedule", time.Now())
	ctx, span := s.startSpan(ctx, "Reschedule", attribute.String("appointment_id", id.String()))
	defer func() {
		s.metrics.observeBooking("reschedule", err)
		endSpan(span, err)
	}()

	old, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(old.Status, StatusRescheduled) {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, old.Status)
	}
	cal, err := s.calendarFor(ctx, old.DoctorID)
	if err != nil {
		return nil, err
	}
	iv, err := validInterval(date, start, old.DurationMinutes)
	if err != nil {
		return nil, err
	}
	if err := cal.checkNotPast(date, start); err != nil {
		return nil, err
	}

	oldID := old.ID
	next = &Appointment{
		ID:              uuid.New(),
		PatientID:       old.PatientID,
		DoctorID:        old.DoctorID,
		Date:            date,
		StartTime:       iv.Start,
		DurationMinutes: old.DurationMinutes,
		Status:          StatusScheduled,
		Type:            old.Type,
		ReasonForVisit:  old.ReasonForVisit,
		Notes:           old.Notes,
		RescheduledFrom: &oldID,
	}
	err = s.repo.WithinTx(ctx, func(ctx context.Context) error {
		// Release the old interval first so the successor may overlap it.
		if _, err := s.repo.UpdateAppointmentStatus(ctx, old.ID, old.Status, StatusRescheduled, nil); err != nil {
			return transitionErr(err, old, StatusRescheduled)
		}
		return s.insertWithinWindow(ctx, next)
	})
	if err != nil {
		s.logger.Debug().Err(err).Str("appointment_id", id.String()).Msg("reschedule rejected")
		return nil, err
	}

	s.metrics.observeTransition(old.Status, StatusRescheduled)
	s.logger.Info().
		Str("appointment_id", next.ID.String()).
		Str("rescheduled_from", old.ID.String()).
		Str("date", next.Date.String()).
		Str("start_time", next.StartTime.String()).
		Msg("appointment rescheduled")
	return next, nil
}

// UpdateDetails edits the reason for visit, notes or type of an appointment
// that is not yet terminal. Date, time and status only change through Book,
// Reschedule, Cancel and AdvanceStatus.
func (s *Service) UpdateDetails(ctx context.Context, id uuid.UUID, d AppointmentDetails) (updated *Appointment, err error) {
	defer s.metrics.since("update_details", time.Now())
	ctx, span := s.startSpan(ctx, "UpdateDetails", attribute.String("appointment_id", id.String()))
	defer func() { endSpan(span, err) }()

	if d.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if d.Type != nil && !d.Type.Valid() {
		return nil, fmt.Errorf("%w: appointment type %q", ErrInvalidInput, *d.Type)
	}
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot edit a %s appointment", ErrInvalidTransition, a.Status)
	}
	updated, err = s.repo.UpdateAppointmentDetails(ctx, id, d)
	if errors.Is(err, errStatusChanged) {
		return nil, fmt.Errorf("%w: appointment %s was closed before the edit", ErrInvalidTransition, id)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", id.String()).
		Bool("reason_changed", d.ReasonForVisit != nil).
		Bool("notes_changed", d.Notes != nil).
		Bool("type_changed", d.Type != nil).
		Msg("appointment details updated")
	return updated, nil
}

// Cancel marks an appointment cancelled and records the reason.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	var r *string
	if reason != "" {
		r = &reason
	}
	return s.transition(ctx, "cancel", id, StatusCancelled, r)
}

// AdvanceStatus applies a table-guarded transition. Rescheduling is only
// possible through Reschedule, which also creates the successor.
func (s *Service) AdvanceStatus(ctx context.Context, id uuid.UUID, target Status) (*Appointment, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, target)
	}
	if target == StatusRescheduled {
		return nil, fmt.Errorf("%w: use reschedule to move an appointment", ErrInvalidTransition)
	}
	return s.transition(ctx, "advance_status", id, target, nil)
}

func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, to Status, reason *string) (updated *Appointment, err error) {
	defer s.metrics.since(op, time.Now())
	ctx, span := s.startSpan(ctx, op,
		attribute.String("appointment_id", id.String()), attribute.String("to", string(to)))
	defer func() { endSpan(span, err) }()

	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	updated, err = s.repo.UpdateAppointmentStatus(ctx, id, a.Status, to, reason)
	if err != nil {
		return nil, transitionErr(err, a, to)
	}

	s.metrics.observeTransition(a.Status, to)
	s.logger.Info().
		Str("appointment_id", id.String()).
		Str("from", string(a.Status)).
		Str("to", string(to)).
		Msg("appointment status changed")
	return updated, nil
}

// transitionErr turns a lost conditional update into ErrInvalidTransition.
func transitionErr(err error, a *Appointment, to Status) error {
	if errors.Is(err, errStatusChanged) {
		return fmt.Errorf("%w: appointment %s is no longer %s, cannot move to %s",
			ErrInvalidTransition, a.ID, a.Status, to)
	}
	return err
}

// -- Reads --

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointment(ctx, id)
}

func (s *Service) ListDoctorAppointments(ctx context.Context, doctorID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return nil, 0, fmt.Errorf("%w: range ends before it starts", ErrInvalidInput)
	}
	return s.repo.ListByDoctor(ctx, doctorID, f, limit, offset)
}

func (s *Service) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// UpcomingAppointments lists calendar-holding appointments from the doctor's
// current date onward.
func (s *Service) UpcomingAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	cal, err := s.calendarFor(ctx, doctorID)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.ListByDoctor(ctx, doctorID, AppointmentFilter{From: cal.today, ActiveOnly: true}, limit, offset)
}
