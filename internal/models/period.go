package models

import "time"

// MonthlyPeriods splits [start, end] into calendar-month periods. The first
// period starts at start and the last ends at end; the rest are whole
// months. Dates are truncated to calendar days.
func MonthlyPeriods(start, end time.Time) []DateRange {
	start, end = DateOnly(start), DateOnly(end)
	if end.Before(start) {
		return nil
	}
	var out []DateRange
	for cur := start; !cur.After(end); {
		pe := MonthEnd(cur)
		if pe.After(end) {
			pe = end
		}
		out = append(out, DateRange{Start: cur, End: pe})
		cur = pe.AddDate(0, 0, 1)
	}
	return out
}

// MonthKey formats t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// FlowWeight is the Modified Dietz weight of a flow on date within period:
// the fraction of the period's days remaining, counting the flow day itself.
// A flow on the first day weighs 1, on the last day 1/D.
func FlowWeight(period DateRange, date time.Time) float64 {
	total := period.Days()
	if total <= 0 {
		return 0
	}
	remaining := int(period.End.Sub(DateOnly(date)).Hours()/24) + 1
	if remaining > total {
		remaining = total
	}
	if remaining < 0 {
		remaining = 0
	}
	return float64(remaining) / float64(total)
}
