package scheduling

import (
	"fmt"
	"sort"
)

// EffectiveWindow returns the open window of a date. An override, when
// present, replaces the weekly row entirely. The boolean is false when the
// doctor is closed that day.
func EffectiveWindow(weekly *WeeklyAvailability, override *DateOverride) (Interval, bool) {
	if override != nil {
		if !override.IsAvailable || override.StartTime == nil || override.EndTime == nil {
			return Interval{}, false
		}
		w := Interval{Start: *override.StartTime, End: *override.EndTime}
		if w.Start >= w.End {
			return Interval{}, false
		}
		return w, true
	}
	if weekly == nil || !weekly.IsAvailable || weekly.StartTime >= weekly.EndTime {
		return Interval{}, false
	}
	return weekly.Window(), true
}

// ResolveSlots partitions window into consecutive slots of duration minutes
// starting at window.Start, discards a trailing partial slot, and drops every
// slot that overlaps an occupied interval. Slots are returned in order.
func ResolveSlots(window Interval, occupied []Interval, duration int) []Slot {
	if duration <= 0 || window.End <= window.Start {
		return []Slot{}
	}
	busy := append([]Interval(nil), occupied...)
	sort.Slice(busy, func(i, j int) bool { return busy[i].Start < busy[j].Start })

	slots := make([]Slot, 0, window.Minutes()/duration)
	j := 0
	for start := window.Start; start.Add(duration) <= window.End; start = start.Add(duration) {
		slot := Slot{Start: start, End: start.Add(duration)}
		for j < len(busy) && busy[j].End <= slot.Start {
			j++
		}
		free := true
		for k := j; k < len(busy) && busy[k].Start < slot.End; k++ {
			if busy[k].Overlaps(slot) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, slot)
		}
	}
	return slots
}

// CheckInterval verifies that candidate fits the window and overlaps none of
// the occupied intervals. open is the second result of EffectiveWindow.
func CheckInterval(window Interval, open bool, occupied []Interval, candidate Interval) error {
	if !open || !window.Contains(candidate) {
		return fmt.Errorf("%w: %s", ErrOutOfAvailability, candidate)
	}
	for _, o := range occupied {
		if o.Overlaps(candidate) {
			return fmt.Errorf("%w: %s overlaps %s", ErrSlotConflict, candidate, o)
		}
	}
	return nil
}
