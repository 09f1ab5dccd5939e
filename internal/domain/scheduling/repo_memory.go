package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type weeklyKey struct {
	doctor  uuid.UUID
	weekday time.Weekday
}

type overrideKey struct {
	doctor uuid.UUID
	date   Date
}

type memTxKey struct{}

// MemoryStore implements Repository in process memory. A single mutex
// serializes all writes, so it suits development and tests only.
type MemoryStore struct {
	mu           sync.RWMutex
	now          func() time.Time
	profiles     map[uuid.UUID]Doctor
	weekly       map[weeklyKey]WeeklyAvailability
	overrides    map[overrideKey]DateOverride
	appointments map[uuid.UUID]Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		profiles:     make(map[uuid.UUID]Doctor),
		weekly:       make(map[weeklyKey]WeeklyAvailability),
		overrides:    make(map[overrideKey]DateOverride),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func (m *MemoryStore) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*MemoryStore)
	return owner == m
}

func (m *MemoryStore) rlock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.RLock()
	return m.mu.RUnlock
}

func (m *MemoryStore) lock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

// WithinTx holds the write lock for the duration of fn and restores the
// previous state if fn fails.
func (m *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	profiles, weekly, overrides, appts := m.snapshot()
	err := fn(context.WithValue(ctx, memTxKey{}, m))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.profiles, m.weekly, m.overrides, m.appointments = profiles, weekly, overrides, appts
		return err
	}
	return nil
}

func (m *MemoryStore) snapshot() (map[uuid.UUID]Doctor, map[weeklyKey]WeeklyAvailability, map[overrideKey]DateOverride, map[uuid.UUID]Appointment) {
	profiles := make(map[uuid.UUID]Doctor, len(m.profiles))
	for k, v := range m.profiles {
		profiles[k] = v
	}
	weekly := make(map[weeklyKey]WeeklyAvailability, len(m.weekly))
	for k, v := range m.weekly {
		weekly[k] = v
	}
	overrides := make(map[overrideKey]DateOverride, len(m.overrides))
	for k, v := range m.overrides {
		overrides[k] = v
	}
	appts := make(map[uuid.UUID]Appointment, len(m.appointments))
	for k, v := range m.appointments {
		appts[k] = v
	}
	return profiles, weekly, overrides, appts
}

// -- Doctor profile --

func (m *MemoryStore) GetDoctorProfile(ctx context.Context, doctorID uuid.UUID) (*Doctor, error) {
	defer m.rlock(ctx)()
	d, ok := m.profiles[doctorID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) UpsertDoctorProfile(ctx context.Context, d *Doctor) error {
	defer m.lock(ctx)()
	d.UpdatedAt = m.now()
	m.profiles[d.ID] = *d
	return nil
}

// -- Weekly availability --

func (m *MemoryStore) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WeeklyAvailability, error) {
	defer m.rlock(ctx)()
	w, ok := m.weekly[weeklyKey{doctorID, weekday}]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *MemoryStore) ListWeeklyAvailability(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyAvailability, error) {
	defer m.rlock(ctx)()
	out := []*WeeklyAvailability{}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w, ok := m.weekly[weeklyKey{doctorID, d}]; ok {
			out = append(out, &w)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpsertWeeklyAvailability(ctx context.Context, w *WeeklyAvailability) error {
	defer m.lock(ctx)()
	w.UpdatedAt = m.now()
	m.weekly[weeklyKey{w.DoctorID, w.Weekday}] = *w
	return nil
}

// -- Date overrides --

func (m *MemoryStore) GetDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) (*DateOverride, error) {
	defer m.rlock(ctx)()
	o, ok := m.overrides[overrideKey{doctorID, date}]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *MemoryStore) ListDateOverrides(ctx context.Context, doctorID uuid.UUID, from, to Date) ([]*DateOverride, error) {
	defer m.rlock(ctx)()
	out := []*DateOverride{}
	for k, o := range m.overrides {
		if k.doctor != doctorID || k.date.Before(from) || k.date.After(to) {
			continue
		}
		out = append(out, &o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) UpsertDateOverride(ctx context.Context, o *DateOverride) error {
	defer m.lock(ctx)()
	o.UpdatedAt = m.now()
	m.overrides[overrideKey{o.DoctorID, o.Date}] = *o
	return nil
}

func (m *MemoryStore) DeleteDateOverride(ctx context.Context, doctorID uuid.UUID, date Date) error {
	defer m.lock(ctx)()
	k := overrideKey{doctorID, date}
	if _, ok := m.overrides[k]; !ok {
		return fmt.Errorf("%w: override for %s", ErrNotFound, date)
	}
	delete(m.overrides, k)
	return nil
}

// -- Appointments --

func (m *MemoryStore) activeLocked(doctorID uuid.UUID, date Date) []*Appointment {
	out := []*Appointment{}
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date == date && a.Status.HoldsCalendar() {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func (m *MemoryStore) GetActiveAppointments(ctx context.Context, doctorID uuid.UUID, date Date) ([]*Appointment, error) {
	defer m.rlock(ctx)()
	return m.activeLocked(doctorID, date), nil
}

func (m *MemoryStore) ConditionalInsertAppointment(ctx context.Context, a *Appointment) error {
	defer m.lock(ctx)()
	if a.Status.HoldsCalendar() {
		for _, b := range m.activeLocked(a.DoctorID, a.Date) {
			if b.Interval().Overlaps(a.Interval()) {
				return fmt.Errorf("%w: %s %s", ErrSlotConflict, a.Date, a.Interval())
			}
		}
	}
	now := m.now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = *a
	return nil
}

func (m *MemoryStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, reason *string) (*Appointment, error) {
	defer m.lock(ctx)()
	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, errStatusChanged
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	a.UpdatedAt = m.now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) UpdateAppointmentDetails(ctx context.Context, id uuid.UUID, d AppointmentDetails) (*Appointment, error) {
	defer m.lock(ctx)()
	a, ok := m.appointments[id]
	if !ok || a.Status.Terminal() {
		return nil, errStatusChanged
	}
	d.Apply(&a)
	a.UpdatedAt = m.now()
	m.appointments[id] = a
	return &a, nil
}

func (m *MemoryStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer m.rlock(ctx)()
	a, ok := m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("%w: appointment %s", ErrNotFound, id)
	}
	return &a, nil
}

func (m *MemoryStore) ListByDoctor(ctx context.Context, doctorID uuid.UUID, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	defer m.rlock(ctx)()
	var out []*Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && f.Matches(&a) {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartTime < out[j].StartTime
	})
	return page(out, limit, offset), len(out), nil
}

func (m *MemoryStore) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	defer m.rlock(ctx)()
	var out []*Appointment
	for _, a := range m.appointments {
		if a.PatientID == patientID {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].StartTime > out[j].StartTime
	})
	return page(out, limit, offset), len(out), nil
}

func page(items []*Appointment, limit, offset int) []*Appointment {
	if offset >= len(items) {
		return []*Appointment{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
