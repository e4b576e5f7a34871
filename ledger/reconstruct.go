/*
reconstruct.go - Chronological ledger order and running balances

PURPOSE:
  The read path never trusts the RunningBalance persisted on a row. It
  rebuilds the display order from the raw log and recomputes every
  running balance, which doubles as a consistency check against the
  supplier's stored TotalOutstanding.

ORDERING:
  1. Group entries by ProcurementID (entries without one stand alone)
  2. Within a group: SortOrder ascending (purchase before payment)
  3. Groups: earliest CreatedAt ascending, reference breaking ties;
     groups with no timestamp follow all timed groups, by reference
  4. Standalone entries follow all groups, oldest first

RUNNING BALANCE:
  +AmountDue for non-deleted purchases, -AmountPaid for payments,
  clamped at zero after each step. Voided rows carry zero amounts and
  so contribute nothing.

EXAMPLE:
  P1 purchase 1000  -> 1000
  P1 payment  1000  ->    0
  P2 purchase  400  ->  400
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Totals summarises a reconstructed ledger.
type Totals struct {
	Due     decimal.Decimal // non-deleted purchase amounts
	Paid    decimal.Decimal // payment amounts
	Balance decimal.Decimal // final clamped running balance
}

type entryGroup struct {
	id       ProcurementID
	entries  []Entry
	earliest time.Time
	ref      string
}

// Reconstruct returns a freshly ordered copy of entries with RunningBalance
// recomputed. The input slice is not modified.
func Reconstruct(entries []Entry) ([]Entry, Totals) {
	groups := make(map[ProcurementID]*entryGroup)
	var standalone []Entry

	for _, e := range entries {
		if e.ProcurementID == "" {
			standalone = append(standalone, e)
			continue
		}
		g, ok := groups[e.ProcurementID]
		if !ok {
			g = &entryGroup{id: e.ProcurementID}
			groups[e.ProcurementID] = g
		}
		g.entries = append(g.entries, e)
	}

	ordered := make([]*entryGroup, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.entries, func(i, j int) bool {
			a, b := g.entries[i], g.entries[j]
			if a.SortOrder != b.SortOrder {
				return a.SortOrder < b.SortOrder
			}
			return olderFirst(a.CreatedAt, b.CreatedAt, a.Reference, b.Reference)
		})
		g.ref = g.entries[0].Reference
		for _, e := range g.entries {
			if e.CreatedAt.IsZero() {
				continue
			}
			if g.earliest.IsZero() || e.CreatedAt.Before(g.earliest) {
				g.earliest = e.CreatedAt
			}
		}
		ordered = append(ordered, g)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.earliest.Equal(b.earliest) && a.ref == b.ref {
			return a.id < b.id
		}
		return olderFirst(a.earliest, b.earliest, a.ref, b.ref)
	})
	sort.SliceStable(standalone, func(i, j int) bool {
		return olderFirst(standalone[i].CreatedAt, standalone[j].CreatedAt, standalone[i].Reference, standalone[j].Reference)
	})

	out := make([]Entry, 0, len(entries))
	for _, g := range ordered {
		out = append(out, g.entries...)
	}
	out = append(out, standalone...)

	totals := Totals{Due: decimal.Zero, Paid: decimal.Zero, Balance: decimal.Zero}
	running := decimal.Zero
	for i := range out {
		e := &out[i]
		switch e.Type {
		case EntryPurchase:
			if !e.IsDeleted {
				totals.Due = totals.Due.Add(e.AmountDue)
			}
		case EntryPayment:
			totals.Paid = totals.Paid.Add(e.AmountPaid)
		}
		running = clampZero(running.Add(e.Delta()))
		e.RunningBalance = running
	}
	totals.Balance = running
	return out, totals
}

// olderFirst orders by timestamp, then reference. Entries without a
// timestamp sort after every timed entry, among themselves by reference.
func olderFirst(a, b time.Time, refA, refB string) bool {
	switch {
	case a.IsZero() != b.IsZero():
		return b.IsZero()
	case !a.Equal(b):
		return a.Before(b)
	default:
		return refA < refB
	}
}
