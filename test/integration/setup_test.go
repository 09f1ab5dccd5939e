//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicops/clinic/internal/domain/scheduling"
	"github.com/clinicops/clinic/internal/platform/db"
	"github.com/clinicops/clinic/migrations"
)

// globalPool is shared by every test. Tests isolate themselves by using
// fresh doctor ids rather than separate schemas.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: connStr, MaxConns: 20, MinConns: 1, MaxConnLifetime: time.Hour})
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigratorFS(pool, migrations.FS).Up(ctx); err != nil {
		pool.Close()
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// farMonday is a Monday that stays in the future for the life of these tests.
var farMonday = scheduling.Date{Year: 2030, Month: time.January, Day: 7}

// newService returns a service over the shared database and a doctor who
// works Mondays 09:00-11:00 in 30 minute slots.
func newService(t *testing.T) (*scheduling.Service, *scheduling.PGStore, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	store := scheduling.NewPGStore(globalPool)
	svc := scheduling.NewService(store, scheduling.WithDefaults(30, time.UTC))

	doctor := uuid.New()
	err := svc.SetWeeklyAvailability(ctx, &scheduling.WeeklyAvailability{
		DoctorID:    doctor,
		Weekday:     time.Monday,
		StartTime:   scheduling.Clock(9, 0),
		EndTime:     scheduling.Clock(11, 0),
		IsAvailable: true,
	})
	if err != nil {
		t.Fatalf("set weekly availability: %v", err)
	}
	return svc, store, doctor
}

func book(t *testing.T, svc *scheduling.Service, doctor uuid.UUID, start scheduling.ClockTime) *scheduling.Appointment {
	t.Helper()
	a, err := svc.Book(context.Background(), scheduling.BookRequest{
		PatientID: uuid.New(),
		DoctorID:  doctor,
		Date:      farMonday,
		StartTime: start,
	})
	if err != nil {
		t.Fatalf("book %s: %v", start, err)
	}
	return a
}
