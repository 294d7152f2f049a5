package core

import (
	"slices"
	"time"
)

// MonthlyBucket is the total of a workspace's invoices due in one calendar month.
type MonthlyBucket struct {
	Year  int
	Month int // 1-12
	Total Money
	Count int
}

// Aggregate buckets invoices by due month within year. The result always has
// twelve entries, January first; invoices due in other years are dropped.
func Aggregate(invoices []Invoice, year int) [12]MonthlyBucket {
	var buckets [12]MonthlyBucket
	for i := range buckets {
		buckets[i] = MonthlyBucket{Year: year, Month: i + 1}
	}
	for _, inv := range invoices {
		due := inv.DueDate.UTC()
		if due.Year() != year {
			continue
		}
		b := &buckets[due.Month()-1]
		b.Total = b.Total.Add(inv.Amount)
		b.Count++
	}
	return buckets
}

// BucketsTotal sums every bucket.
func BucketsTotal(buckets []MonthlyBucket) Money {
	var total Money
	for _, b := range buckets {
		total = total.Add(b.Total)
	}
	return total
}

// AvailableYears returns the distinct due-date years, most recent first.
func AvailableYears(invoices []Invoice) []int {
	seen := make(map[int]struct{})
	years := make([]int, 0)
	for _, inv := range invoices {
		y := inv.DueDate.UTC().Year()
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}
	slices.Sort(years)
	slices.Reverse(years)
	return years
}

// SelectYear keeps selected when it is available, otherwise falls back to the
// most recent available year, or to the current calendar year when there is no data.
func SelectYear(selected int, available []int, now time.Time) int {
	if slices.Contains(available, selected) {
		return selected
	}
	if len(available) > 0 {
		return slices.Max(available)
	}
	return now.UTC().Year()
}

// DueDays returns the distinct UTC calendar days carrying at least one invoice, ascending.
func DueDays(invoices []Invoice) []time.Time {
	seen := make(map[time.Time]struct{})
	days := make([]time.Time, 0)
	for _, inv := range invoices {
		d := UTCDay(inv.DueDate)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	slices.SortFunc(days, func(a, b time.Time) int { return a.Compare(b) })
	return days
}

// SortInvoices orders by due date descending, ties by insertion sequence.
func SortInvoices(invoices []Invoice) {
	slices.SortStableFunc(invoices, func(a, b Invoice) int {
		if c := b.DueDate.Compare(a.DueDate); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
}
