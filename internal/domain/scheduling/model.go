package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MinutesPerDay bounds every ClockTime. 24:00 is only valid as an exclusive end.
const MinutesPerDay = 24 * 60

// DefaultDurationMinutes is used when neither the request nor the doctor's
// profile names a slot length.
const DefaultDurationMinutes = 30

// ClockTime is a wall-clock time of day expressed as minutes after midnight.
type ClockTime int

// Clock builds a ClockTime from hours and minutes.
func Clock(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClock accepts "HH:MM" or "HH:MM:SS". Seconds must be zero.
func ParseClock(s string) (ClockTime, error) {
	if (len(s) != 5 && len(s) != 8) || s[2] != ':' || (len(s) == 8 && s[5] != ':') {
		return 0, fmt.Errorf("%w: time %q: expected HH:MM", ErrInvalidInput, s)
	}
	h, okH := twoDigits(s[0:2])
	m, okM := twoDigits(s[3:5])
	sec, okS := 0, true
	if len(s) == 8 {
		sec, okS = twoDigits(s[6:8])
	}
	if !okH || !okM || !okS {
		return 0, fmt.Errorf("%w: time %q: expected HH:MM", ErrInvalidInput, s)
	}
	if m > 59 || sec != 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: time %q out of range", ErrInvalidInput, s)
	}
	return Clock(h, m), nil
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// Valid reports whether c lies within [00:00, 24:00].
func (c ClockTime) Valid() bool { return c >= 0 && c <= MinutesPerDay }

// Add returns c shifted by the given number of minutes.
func (c ClockTime) Add(minutes int) ClockTime { return c + ClockTime(minutes) }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: time must be a string", ErrInvalidInput)
	}
	v, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Date is a calendar date without a time zone. The zero value is invalid.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a "YYYY-MM-DD" string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q", ErrInvalidInput, s)
	}
	return DateOf(t), nil
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC of d, the form used for DATE columns.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At returns the instant of clock time c on d in loc.
func (d Date) At(c ClockTime, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, int(c)/60, int(c)%60, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

func (d Date) AddDays(n int) Date { return DateOf(d.Time().AddDate(0, 0, n)) }

func (d Date) Before(o Date) bool { return d.Time().Before(o.Time()) }

func (d Date) After(o Date) bool { return d.Time().After(o.Time()) }

func (d Date) String() string { return d.Time().Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: date must be a string", ErrInvalidInput)
	}
	v, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Interval is the half-open clock range [Start, End).
type Interval struct {
	Start ClockTime `json:"start"`
	End   ClockTime `json:"end"`
}

// Minutes returns the length of the interval.
func (i Interval) Minutes() int { return int(i.End - i.Start) }

// Overlaps reports whether i and o share at least one minute.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Contains reports whether o lies entirely within i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

func (i Interval) String() string {
	return i.Start.String() + "-" + i.End.String()
}

// Slot is one bookable interval on a doctor's calendar.
type Slot = Interval

// AppointmentType distinguishes in-person visits from remote consultations.
type AppointmentType string

const (
	TypeInPerson AppointmentType = "in_person"
	TypeRemote   AppointmentType = "remote"
)

func (t AppointmentType) Valid() bool {
	return t == TypeInPerson || t == TypeRemote
}

// Doctor carries the scheduling profile of a doctor owned by the directory
// service. Only the fields the scheduler needs are kept.
type Doctor struct {
	ID          uuid.UUID `json:"id"`
	SlotMinutes int       `json:"slot_minutes"`
	TimeZone    string    `json:"time_zone"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Location loads the doctor's time zone.
func (d *Doctor) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(d.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q", ErrInvalidInput, d.TimeZone)
	}
	return loc, nil
}

// WeeklyAvailability is the recurring window for one weekday.
type WeeklyAvailability struct {
	DoctorID    uuid.UUID    `json:"doctor_id"`
	Weekday     time.Weekday `json:"weekday"`
	StartTime   ClockTime    `json:"start_time"`
	EndTime     ClockTime    `json:"end_time"`
	IsAvailable bool         `json:"is_available"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (w *WeeklyAvailability) Window() Interval {
	return Interval{Start: w.StartTime, End: w.EndTime}
}

// DateOverride replaces the weekly template for a single date.
type DateOverride struct {
	DoctorID    uuid.UUID  `json:"doctor_id"`
	Date        Date       `json:"date"`
	StartTime   *ClockTime `json:"start_time,omitempty"`
	EndTime     *ClockTime `json:"end_time,omitempty"`
	IsAvailable bool       `json:"is_available"`
	Reason      *string    `json:"reason,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Appointment is a booking of one patient with one doctor.
type Appointment struct {
	ID                 uuid.UUID       `json:"id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	DoctorID           uuid.UUID       `json:"doctor_id"`
	Date               Date            `json:"date"`
	StartTime          ClockTime       `json:"start_time"`
	DurationMinutes    int             `json:"duration_minutes"`
	Status             Status          `json:"status"`
	Type               AppointmentType `json:"type"`
	ReasonForVisit     *string         `json:"reason_for_visit,omitempty"`
	Notes              *string         `json:"notes,omitempty"`
	CancellationReason *string         `json:"cancellation_reason,omitempty"`
	RescheduledFrom    *uuid.UUID      `json:"rescheduled_from,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// EndTime returns the exclusive end of the appointment.
func (a *Appointment) EndTime() ClockTime {
	return a.StartTime.Add(a.DurationMinutes)
}

func (a *Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime()}
}

// AppointmentDetails are the fields of an appointment that can change
// without moving it. Nil fields keep their stored value.
type AppointmentDetails struct {
	ReasonForVisit *string          `json:"reason_for_visit"`
	Notes          *string          `json:"notes"`
	Type           *AppointmentType `json:"type"`
}

func (d AppointmentDetails) Empty() bool {
	return d.ReasonForVisit == nil && d.Notes == nil && d.Type == nil
}

// Apply copies the set fields onto a.
func (d AppointmentDetails) Apply(a *Appointment) {
	if d.ReasonForVisit != nil {
		a.ReasonForVisit = d.ReasonForVisit
	}
	if d.Notes != nil {
		a.Notes = d.Notes
	}
	if d.Type != nil {
		a.Type = *d.Type
	}
}

// AppointmentFilter narrows doctor appointment listings. Zero fields match all.
type AppointmentFilter struct {
	From   Date
	To     Date
	Status Status
	// ActiveOnly keeps calendar-holding appointments only.
	ActiveOnly bool
}

func (f AppointmentFilter) Matches(a *Appointment) bool {
	if !f.From.IsZero() && a.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.Date.After(f.To) {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.ActiveOnly && !a.Status.HoldsCalendar() {
		return false
	}
	return true
}
