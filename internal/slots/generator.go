package slots

import "studiobook/internal/models"

// Interval is a half-open wall-clock range [Start, End).
type Interval struct {
	Start models.TimeOfDay `json:"start_time"`
	End   models.TimeOfDay `json:"end_time"`
}

// Slot is a bookable interval on a date for one service type.
type Slot struct {
	Date          models.Date      `json:"date"`
	StartTime     models.TimeOfDay `json:"start_time"`
	EndTime       models.TimeOfDay `json:"end_time"`
	ServiceTypeID int64            `json:"service_type_id"`
}

// Generate splits [open, close) into consecutive intervals of durationMinutes.
// A trailing remainder shorter than the duration is dropped.
func Generate(open, closeAt models.TimeOfDay, durationMinutes int) []Interval {
	if durationMinutes <= 0 || open >= closeAt {
		return nil
	}

	var out []Interval
	for cursor := open; cursor.AddMinutes(durationMinutes) <= closeAt; cursor = cursor.AddMinutes(durationMinutes) {
		out = append(out, Interval{Start: cursor, End: cursor.AddMinutes(durationMinutes)})
	}
	return out
}

// Overlaps is the half-open overlap test: touching intervals do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && b.Start < a.End
}

// Filter keeps the candidates that overlap nothing in booked or blocked.
func Filter(candidates, booked, blocked []Interval) []Interval {
	out := make([]Interval, 0, len(candidates))
	for _, c := range candidates {
		if overlapsAny(c, booked) || overlapsAny(c, blocked) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func overlapsAny(c Interval, set []Interval) bool {
	for _, s := range set {
		if Overlaps(c, s) {
			return true
		}
	}
	return false
}

// Contains reports whether an interval starting at start is in the set.
func Contains(set []Interval, start models.TimeOfDay) bool {
	for _, s := range set {
		if s.Start == start {
			return true
		}
	}
	return false
}

// ToSlots attaches the date and service type to each interval.
func ToSlots(date models.Date, serviceTypeID int64, intervals []Interval) []Slot {
	result := make([]Slot, len(intervals))
	for i, iv := range intervals {
		result[i] = Slot{
			Date:          date,
			StartTime:     iv.Start,
			EndTime:       iv.End,
			ServiceTypeID: serviceTypeID,
		}
	}
	return result
}
