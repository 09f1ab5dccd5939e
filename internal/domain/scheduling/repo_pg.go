package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/clinic/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore implements Repository on PostgreSQL.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

func (r *PGStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *PGStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// -- Doctor profile --

func (r *PGStore) GetDoctorProfile(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT doctor_id, slot_minutes, time_zone, updated_at
		FROM doctor_scheduling_profile WHERE doctor_id = $1`, doctorID).
		Scan(&d.ID, &d.SlotMinutes, &d.TimeZone, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor profile: %w", err)
	}
	return &d, nil
}

func (r *PGStore) UpsertDoctorProfile(ctx context.Context, d *Doctor) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctor_scheduling_profile (doctor_id, slot_minutes, time_zone)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id) DO UPDATE
		SET slot_minutes = EXCLUDED.slot_minutes, time_zone = EXCLUDED.time_zone, updated_at = now()
		RETURNING updated_at`, d.ID, d.SlotMinutes, d.TimeZone).Scan(&d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert doctor profile: %w", err)
	}
	return nil
}

// -- Weekly availability --

const weeklyCols = `doctor_id, weekday, start_minute, end_minute, is_available, updated_at`

func scanWeekly(row pgx.Row) (*WeeklyAvailability, error) {
	var w WeeklyAvailability
	var weekday int16
	var start, end int32
	if err := row.Scan(&w.DoctorID, &weekday, &start, &end, &w.IsAvailable, &w.UpdatedAt); err != nil {
		return nil, err
	}
	w.Weekday = time.Weekday(weekday)
	w.StartTime, w.EndTime = ClockTime(start), ClockTime(end)
	return &w, nil
}

func (r *PGStore) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WeeklyAvailability, error) {
	w, err := scanWeekly(r.conn(ctx).QueryRow(ctx,
		`SELECT `+weeklyCols+` FROM weekly_availability WHERE doctor_id = $1 AND weekday = $2`,
		doctorID, int16(weekday)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly availability: %w", err)
	}
	return w, nil
}

func (r *PGStore) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyAvailability, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+weeklyCols+` FROM weekly_availability WHERE doctor_id = $1 ORDER BY weekday`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("list weekly availability: %w", err)
	}
	defer rows.Close()

	out := []*WeeklyAvailability{}
	for rows.Next() {
		w, err := scanWeekly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan weekly availability: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PGStore) UpsertWeeklyAvailability(ctx context.Context, w *WeeklyAvailability) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO weekly_availability (doctor_id, weekday, start_minute, end_minute, is_available)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (doctor_id, weekday) DO UPDATE
		SET start_minute = EXCLUDED.start_minute, end_minute = EXCLUDED.end_minute,
			is_available = EXCLUDED.is_available, updated_at = now()
		RETURNING updated_at`,
		w.DoctorID, int16(w.Weekday), int32(w.StartTime), int32(w.EndTime), w.IsAvailable).Scan(&w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert weekly availability: %w", err)
	}
	return nil
}

// -- Date overrides --

const overrideCols = `doctor_id, override_date, start_minute, end_minute, is_available, reason, updated_at`

func scanOverride(row pgx.Row) (*DateOverride, error) {
	var o DateOverride
	var date time.Time
	var start, end *int32
	if err := row.Scan(&o.DoctorID, &date, &start, &end, &o.IsAvailable, &o.Reason, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Date = DateOf(date)
	if start != nil {
		c := ClockTime(*start)
		o.StartTime = &c
	}
	if end != nil {
		c := ClockTime(*end)
		o.EndTime = &c
	}
	return &o, nil
}

func minutesOrNil(c *ClockTime) *int32 {
	if c == nil {
		return nil
	}
	v := int32(*c)
	return &v
}

func (r *PGStore) GetDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) (*DateOverride, error) {
	o, err := scanOverride(r.conn(ctx).QueryRow(ctx,
		`SELECT `+overrideCols+` FROM date_override WHERE doctor_id = $1 AND override_date = $2`,
		doctorID, date.Time()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get date override: %w", err)
	}
	return o, nil
}

func (r *PGStore) ListDateOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*DateOverride, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+overrideCols+` FROM date_override
		WHERE doctor_id = $1 AND override_date BETWEEN $2 AND $3
		ORDER BY override_date`, doctorID, from.Time(), to.Time())
	if err != nil {
		return nil, fmt.Errorf("list date overrides: %w", err)
	}
	defer rows.Close()

	out := []*DateOverride{}
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan date override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *PGStore) UpsertDateOverride(ctx context.Context, o *DateOverride) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO date_override (doctor_id, override_date, start_minute, end_minute, is_available, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, override_date) DO UPDATE
		SET start_minute = EXCLUDED.start_minute, end_minute = EXCLUDED.end_minute,
			is_available = EXCLUDED.is_available, reason = EXCLUDED.reason, updated_at = now()
		RETURNING updated_at`,
		o.DoctorID, o.Date.Time(), minutesOrNil(o.StartTime), minutesOrNil(o.EndTime), o.IsAvailable, o.Reason).
		Scan(&o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert date override: %w", err)
	}
	return nil
}

func (r *PGStore) DeleteDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM date_override WHERE doctor_id = $1 AND override_date = $2`, doctorID, date.Time())
	if err != nil {
		return fmt.Errorf("delete date override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: override for %s", ErrNotFound, date)
	}
	return nil
}

// -- Appointments --

const apptCols = `id, patient_id, doctor_id, appointment_date, start_minute, duration_minutes,
	status, appointment_type, reason_for_visit, notes, cancellation_reason, rescheduled_from, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var start int32
	var status, typ string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &start, &a.DurationMinutes,
		&status, &typ, &a.ReasonForVisit, &a.Notes, &a.CancellationReason, &a.RescheduledFrom, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Date = DateOf(date)
	a.StartTime = ClockTime(start)
	a.Status = Status(status)
	a.Type = AppointmentType(typ)
	return &a, nil
}

func collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	out := []*Appointment{}
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PGStore) GetActiveAppointments(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2 AND status = ANY($3)
		ORDER BY start_minute`, doctorID, date.Time(), HoldingStatuses())
	if err != nil {
		return nil, fmt.Errorf("get active appointments: %w", err)
	}
	return collectAppts(rows)
}

// ConditionalInsertAppointment relies on two guards: the NOT EXISTS predicate
// sees rows committed before the statement, and the appointment_no_overlap
// exclusion constraint rejects rows committed concurrently.
func (r *PGStore) ConditionalInsertAppointment(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appointment_date, start_minute,
			duration_minutes, status, appointment_type, notes, rescheduled_from, reason_for_visit)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::date, $5::int, $6::int, $7::text, $8::text, $9::text, $10::uuid, $12::text
		WHERE NOT EXISTS (
			SELECT 1 FROM appointment
			WHERE doctor_id = $3::uuid AND appointment_date = $4::date AND status = ANY($11::text[])
			  AND start_minute < $5::int + $6::int AND start_minute + duration_minutes > $5::int
		)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.Date.Time(), int32(a.StartTime), a.DurationMinutes,
		string(a.Status), string(a.Type), a.Notes, a.RescheduledFrom, HoldingStatuses(), a.ReasonForVisit).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrSlotConflict, a.Date, a.Interval())
	}
	if isOverlapViolation(err) {
		return fmt.Errorf("%w: %s %s", ErrSlotConflict, a.Date, a.Interval())
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case pgErr.Code == "23P01", pgErr.ConstraintName == "appointment_no_overlap":
		return true
	case pgErr.Code == "40P01":
		// Two inserts waiting on each other's exclusion check; the survivor
		// holds the slot.
		return true
	}
	return false
}

func (r *PGStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET status = $3,
			cancellation_reason = COALESCE($4, cancellation_reason),
			updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols, id, string(from), string(to), reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return a, nil
}

func (r *PGStore) UpdateAppointmentDetails(ctx context.Context, id uuid.UUID, d AppointmentDetails) (*Appointment, error) {
	var typ *string
	if d.Type != nil {
		t := string(*d.Type)
		typ = &t
	}
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment
		SET reason_for_visit = COALESCE($2, reason_for_visit),
			notes = COALESCE($3, notes),
			appointment_type = COALESCE($4, appointment_type),
			updated_at = now()
		WHERE id = $1 AND status = ANY($5)
		RETURNING `+apptCols, id, d.ReasonForVisit, d.Notes, typ, EditableStatuses()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errStatusChanged
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment details: %w", err)
	}
	return a, nil
}

func (r *PGStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return a, nil
}

func (r *PGStore) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := `doctor_id = $1`
	args := []interface{}{doctorID}
	idx := 2
	if !f.From.IsZero() {
		where += fmt.Sprintf(" AND appointment_date >= $%d", idx)
		args = append(args, f.From.Time())
		idx++
	}
	if !f.To.IsZero() {
		where += fmt.Sprintf(" AND appointment_date <= $%d", idx)
		args = append(args, f.To.Time())
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.ActiveOnly {
		where += fmt.Sprintf(" AND status = ANY($%d)", idx)
		args = append(args, HoldingStatuses())
		idx++
	}
	return r.list(ctx, where, args, idx, `appointment_date, start_minute`, limit, offset)
}

func (r *PGStore) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return r.list(ctx, `patient_id = $1`, []interface{}{patientID}, 2, `appointment_date DESC, start_minute DESC`, limit, offset)
}

func (r *PGStore) list(ctx context.Context, where string, args []interface{}, idx int, order string, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM appointment WHERE %s ORDER BY %s LIMIT $%d OFFSET $%d`,
		apptCols, where, order, idx, idx+1)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	items, err := collectAppts(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
