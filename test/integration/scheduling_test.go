//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/clinicops/clinic/internal/domain/scheduling"
	"github.com/clinicops/clinic/internal/platform/db"
	"github.com/clinicops/clinic/migrations"
)

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	m := db.NewMigratorFS(globalPool, migrations.FS)

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations, applied %d", n)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %d %s not applied", s.Version, s.Name)
		}
	}
}

func TestConditionalInsertRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	store := scheduling.NewPGStore(globalPool)
	doctor := uuid.New()

	appt := func(start scheduling.ClockTime, status scheduling.Status) *scheduling.Appointment {
		return &scheduling.Appointment{
			ID:              uuid.New(),
			PatientID:       uuid.New(),
			DoctorID:        doctor,
			Date:            farMonday,
			StartTime:       start,
			DurationMinutes: 30,
			Status:          status,
			Type:            scheduling.TypeInPerson,
		}
	}

	if err := store.ConditionalInsertAppointment(ctx, appt(scheduling.Clock(9, 0), scheduling.StatusScheduled)); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	err := store.ConditionalInsertAppointment(ctx, appt(scheduling.Clock(9, 15), scheduling.StatusScheduled))
	if !errors.Is(err, scheduling.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	// Touching intervals do not overlap.
	if err := store.ConditionalInsertAppointment(ctx, appt(scheduling.Clock(9, 30), scheduling.StatusScheduled)); err != nil {
		t.Fatalf("adjacent insert: %v", err)
	}

	// Rows that do not hold the calendar never conflict.
	if err := store.ConditionalInsertAppointment(ctx, appt(scheduling.Clock(9, 0), scheduling.StatusCancelled)); err != nil {
		t.Fatalf("cancelled insert: %v", err)
	}

	active, err := store.GetActiveAppointments(ctx, doctor, farMonday)
	if err != nil {
		t.Fatalf("GetActiveAppointments: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active appointments, got %d", len(active))
	}
	if active[0].StartTime != scheduling.Clock(9, 0) || active[1].StartTime != scheduling.Clock(9, 30) {
		t.Errorf("unexpected order: %s, %s", active[0].StartTime, active[1].StartTime)
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	svc, _, doctor := newService(t)
	ctx := context.Background()

	const attempts = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Book(ctx, scheduling.BookRequest{
				PatientID: uuid.New(),
				DoctorID:  doctor,
				Date:      farMonday,
				StartTime: scheduling.Clock(10, 0),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, scheduling.ErrSlotConflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d and %d", attempts-1, wins, conflicts)
	}
}

func TestRescheduleReleasesOldSlot(t *testing.T) {
	svc, store, doctor := newService(t)
	ctx := context.Background()

	old := book(t, svc, doctor, scheduling.Clock(9, 0))
	next, err := svc.Reschedule(ctx, old.ID, farMonday, scheduling.Clock(10, 30))
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if next.RescheduledFrom == nil || *next.RescheduledFrom != old.ID {
		t.Errorf("successor does not point back to %s", old.ID)
	}

	stored, err := store.GetAppointment(ctx, old.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if stored.Status != scheduling.StatusRescheduled {
		t.Errorf("expected old status rescheduled, got %s", stored.Status)
	}

	slots, err := svc.AvailableSlots(ctx, doctor, farMonday, 0)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	var starts []scheduling.ClockTime
	for _, s := range slots {
		starts = append(starts, s.Start)
	}
	want := []scheduling.ClockTime{scheduling.Clock(9, 0), scheduling.Clock(9, 30), scheduling.Clock(10, 0)}
	if len(starts) != len(want) {
		t.Fatalf("expected slots %v, got %v", want, starts)
	}
	for i := range want {
		if starts[i] != want[i] {
			t.Fatalf("expected slots %v, got %v", want, starts)
		}
	}
}

func TestRescheduleIntoConflictKeepsOriginal(t *testing.T) {
	svc, store, doctor := newService(t)
	ctx := context.Background()

	first := book(t, svc, doctor, scheduling.Clock(9, 0))
	book(t, svc, doctor, scheduling.Clock(10, 0))

	_, err := svc.Reschedule(ctx, first.ID, farMonday, scheduling.Clock(10, 0))
	if !errors.Is(err, scheduling.ErrSlotConflict) {
		t.Fatalf("expected ErrSlotConflict, got %v", err)
	}

	stored, err := store.GetAppointment(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if stored.Status != scheduling.StatusScheduled {
		t.Errorf("expected original to stay scheduled, got %s", stored.Status)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := scheduling.NewPGStore(globalPool)
	doctor := uuid.New()
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(ctx context.Context) error {
		if err := store.UpsertDoctorProfile(ctx, &scheduling.Doctor{ID: doctor, SlotMinutes: 20, TimeZone: "UTC"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	d, err := store.GetDoctorProfile(ctx, doctor)
	if err != nil {
		t.Fatalf("GetDoctorProfile: %v", err)
	}
	if d != nil {
		t.Errorf("expected no profile after rollback, got %+v", d)
	}
}

func TestDateOverrideLifecycle(t *testing.T) {
	svc, _, doctor := newService(t)
	ctx := context.Background()
	reason := "conference"

	err := svc.SetDateOverride(ctx, &scheduling.DateOverride{
		DoctorID: doctor, Date: farMonday, IsAvailable: false, Reason: &reason,
	})
	if err != nil {
		t.Fatalf("SetDateOverride: %v", err)
	}

	slots, err := svc.AvailableSlots(ctx, doctor, farMonday, 0)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected a closed day, got %d slots", len(slots))
	}

	list, err := svc.ListDateOverrides(ctx, doctor, farMonday.AddDays(-7), farMonday.AddDays(7))
	if err != nil {
		t.Fatalf("ListDateOverrides: %v", err)
	}
	if len(list) != 1 || list[0].Reason == nil || *list[0].Reason != reason {
		t.Fatalf("unexpected overrides: %+v", list)
	}

	if err := svc.ClearDateOverride(ctx, doctor, farMonday); err != nil {
		t.Fatalf("ClearDateOverride: %v", err)
	}
	if err := svc.ClearDateOverride(ctx, doctor, farMonday); !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second clear, got %v", err)
	}

	slots, err = svc.AvailableSlots(ctx, doctor, farMonday, 0)
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	if len(slots) != 4 {
		t.Errorf("expected the weekly 4 slots back, got %d", len(slots))
	}
}

func TestCancelFreesSlotAndRecordsReason(t *testing.T) {
	svc, _, doctor := newService(t)
	ctx := context.Background()

	a := book(t, svc, doctor, scheduling.Clock(9, 30))
	cancelled, err := svc.Cancel(ctx, a.ID, "patient request")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "patient request" {
		t.Errorf("reason not stored: %+v", cancelled.CancellationReason)
	}

	ok, err := svc.IsSlotAvailable(ctx, doctor, farMonday, scheduling.Clock(9, 30), 0)
	if err != nil {
		t.Fatalf("IsSlotAvailable: %v", err)
	}
	if !ok {
		t.Error("expected the cancelled slot to be free again")
	}
}

func TestUpdateDetailsRoundTrip(t *testing.T) {
	svc, store, doctor := newService(t)
	ctx := context.Background()
	reason := "annual check"
	a, err := svc.Book(ctx, scheduling.BookRequest{
		PatientID: uuid.New(), DoctorID: doctor, Date: farMonday,
		StartTime: scheduling.Clock(9, 0), ReasonForVisit: &reason,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	notes := "fasting"
	remote := scheduling.TypeRemote
	if _, err := svc.UpdateDetails(ctx, a.ID, scheduling.AppointmentDetails{Notes: &notes, Type: &remote}); err != nil {
		t.Fatalf("UpdateDetails: %v", err)
	}
	stored, err := store.GetAppointment(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if stored.ReasonForVisit == nil || *stored.ReasonForVisit != reason {
		t.Errorf("reason_for_visit: got %v", stored.ReasonForVisit)
	}
	if stored.Notes == nil || *stored.Notes != notes || stored.Type != scheduling.TypeRemote {
		t.Errorf("details not stored: %+v", stored)
	}

	if _, err := svc.Cancel(ctx, a.ID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := store.UpdateAppointmentDetails(ctx, a.ID, scheduling.AppointmentDetails{Notes: &notes}); err == nil {
		t.Error("expected the store to refuse editing a cancelled appointment")
	}
}

func TestEmptyListsAreNotNil(t *testing.T) {
	ctx := context.Background()
	store := scheduling.NewPGStore(globalPool)
	doctor := uuid.New()

	weekly, err := store.ListWeeklyAvailability(ctx, doctor)
	if err != nil || weekly == nil {
		t.Errorf("ListWeeklyAvailability: %v, nil=%v", err, weekly == nil)
	}
	overrides, err := store.ListDateOverrides(ctx, doctor, farMonday, farMonday.AddDays(30))
	if err != nil || overrides == nil {
		t.Errorf("ListDateOverrides: %v, nil=%v", err, overrides == nil)
	}
	appts, _, err := store.ListByDoctor(ctx, doctor, scheduling.AppointmentFilter{}, 20, 0)
	if err != nil || appts == nil {
		t.Errorf("ListByDoctor: %v, nil=%v", err, appts == nil)
	}
}
