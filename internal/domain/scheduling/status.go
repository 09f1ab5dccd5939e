package scheduling

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

// transitions is the single source of truth for the appointment lifecycle.
// A status missing from the map, or mapped to an empty set, is terminal.
var transitions = map[Status]map[Status]bool{
	StatusScheduled: {
		StatusConfirmed:   true,
		StatusCancelled:   true,
		StatusRescheduled: true,
		StatusInProgress:  true,
	},
	StatusConfirmed: {
		StatusCancelled:   true,
		StatusRescheduled: true,
		StatusInProgress:  true,
	},
	StatusInProgress: {
		StatusCompleted: true,
	},
	StatusCompleted:   {},
	StatusCancelled:   {},
	StatusRescheduled: {},
}

// holding lists the statuses whose interval blocks the doctor's calendar.
var holding = []Status{StatusScheduled, StatusConfirmed, StatusInProgress}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// HoldsCalendar reports whether an appointment in status s occupies its interval.
func (s Status) HoldsCalendar() bool {
	for _, h := range holding {
		if s == h {
			return true
		}
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// EditableStatuses returns the statuses whose details may still change:
// every status that is not terminal.
func EditableStatuses() []string {
	var out []string
	for _, s := range []Status{StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusRescheduled} {
		if !s.Terminal() {
			out = append(out, string(s))
		}
	}
	return out
}

// HoldingStatuses returns the calendar-holding statuses as strings, the
// form the storage layer filters on.
func HoldingStatuses() []string {
	out := make([]string, len(holding))
	for i, s := range holding {
		out[i] = string(s)
	}
	return out
}
