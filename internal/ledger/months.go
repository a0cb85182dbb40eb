package ledger

import (
	"fmt"
	"sort"
	"time"
)

// MonthOf renders t's calendar month as "YYYY-MM".
func MonthOf(t time.Time) string {
	return t.Format("2006-01")
}

// LastMonths returns the n months ending with the current one, oldest first.
func LastMonths(n int) []string {
	return lastMonthsFrom(time.Now(), n)
}

func lastMonthsFrom(day time.Time, n int) []string {
	months := make([]string, 0, n)
	for len(months) < n {
		months = append(months, MonthOf(day))
		// first of the month, minus one day, lands in the previous month
		day = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location()).AddDate(0, 0, -1)
	}
	sort.Strings(months)
	return months
}

// ResolveMonths turns the CLI month-selection options into a sorted,
// de-duplicated list of "YYYY-MM" strings. Exactly one selection form may be
// used: a single month, a trailing window of last months, or an inclusive
// from/to range. With no selection it returns nil, which components interpret
// as their own default window.
func ResolveMonths(month string, last int, from, to string) ([]string, error) {
	set := 0
	if month != "" {
		set++
	}
	if last > 0 {
		set++
	}
	if from != "" || to != "" {
		set++
	}
	if set > 1 {
		return nil, fmt.Errorf("month, last and from/to are mutually exclusive")
	}

	switch {
	case month != "":
		if _, err := parseMonth(month); err != nil {
			return nil, err
		}
		return []string{month}, nil

	case last > 0:
		return LastMonths(last), nil

	case from != "" || to != "":
		if from == "" || to == "" {
			return nil, fmt.Errorf("from and to must be given together")
		}
		start, err := parseMonth(from)
		if err != nil {
			return nil, err
		}
		end, err := parseMonth(to)
		if err != nil {
			return nil, err
		}
		if end.Before(start) {
			return nil, fmt.Errorf("month range %s..%s is reversed", from, to)
		}
		var months []string
		for d := start; !d.After(end); d = d.AddDate(0, 1, 0) {
			months = append(months, MonthOf(d))
		}
		return months, nil
	}
	return nil, nil
}

func parseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, expected YYYY-MM", s)
	}
	return t, nil
}
