package core

import "time"

// Resolve derives the display status of an invoice. Paid is terminal; an
// unpaid invoice becomes overdue once its due date is strictly before now.
func Resolve(stored Status, due, now time.Time) DisplayStatus {
	if stored == StatusPaid {
		return DisplayPaid
	}
	if due.Before(now) {
		return DisplayOverdue
	}
	return DisplayPending
}

// Display resolves the invoice against now.
func (i Invoice) Display(now time.Time) DisplayStatus {
	return Resolve(i.Status, i.DueDate, now)
}

// Matches reports whether the invoice passes filter at now. DisplayAll matches everything.
func (i Invoice) Matches(filter DisplayStatus, now time.Time) bool {
	return filter == DisplayAll || i.Display(now) == filter
}
