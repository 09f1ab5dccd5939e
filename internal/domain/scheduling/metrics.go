package scheduling

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the scheduler's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	SlotQueries       prometheus.Counter
	SlotsReturned     prometheus.Histogram
	Bookings          *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SlotQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clinic_slot_queries_total",
			Help: "Available-slot resolutions served.",
		}),
		SlotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinic_slots_returned",
			Help:    "Open slots returned per resolution.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_booking_attempts_total",
			Help: "Book and reschedule attempts by outcome.",
		}, []string{"operation", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_appointment_transitions_total",
			Help: "Committed appointment status transitions.",
		}, []string{"from", "to"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinic_scheduling_operation_duration_seconds",
			Help:    "Scheduler operation latency.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
	reg.MustRegister(m.SlotQueries, m.SlotsReturned, m.Bookings, m.Transitions, m.OperationDuration)
	return m
}

// outcome buckets an error into a low-cardinality label value.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOutOfAvailability):
		return "out_of_availability"
	case errors.Is(err, ErrSlotConflict):
		return "slot_conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (m *Metrics) observeSlots(n int) {
	if m == nil {
		return
	}
	m.SlotQueries.Inc()
	m.SlotsReturned.Observe(float64(n))
}

func (m *Metrics) observeBooking(op string, err error) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) observeTransition(from, to Status) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) since(op string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
