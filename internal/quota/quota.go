package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"formbridge/internal/kv"
)

// Ledger tracks monthly submission counters per form. Counters are
// keyed by (form id, calendar month) so they reset implicitly when
// the month rolls over; each key expires 12 months after creation so
// stale counters never accumulate.
type Ledger struct {
	store kv.Store
	now   func() time.Time

	monthlyLimit     int64
	grandfatherLimit int64
	// forms with id at or below this sequence keep the legacy limit
	decreaseSequence uint
}

// NewLedger creates a quota ledger over the given store
func NewLedger(store kv.Store, monthlyLimit, grandfatherLimit int64, decreaseSequence uint) *Ledger {
	return &Ledger{
		store:            store,
		now:              time.Now,
		monthlyLimit:     monthlyLimit,
		grandfatherLimit: grandfatherLimit,
		decreaseSequence: decreaseSequence,
	}
}

func counterKey(formID uint, month time.Month) string {
	return fmt.Sprintf("monthly_%d_%d", formID, int(month))
}

// startOfMonthIn12Months is when a counter created now expires
func startOfMonthIn12Months(now time.Time) time.Time {
	y, m, _ := now.Date()
	return time.Date(y+1, m, 1, 0, 0, 0, 0, time.UTC)
}

// Increment bumps the form's counter for the current month and
// returns the new value. The increment is a single atomic round trip.
func (l *Ledger) Increment(ctx context.Context, formID uint) (int64, error) {
	now := l.now()
	key := counterKey(formID, now.Month())
	n, err := l.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to increment monthly counter for form %d: %w", formID, err)
	}
	if err := l.store.ExpireAt(ctx, key, startOfMonthIn12Months(now)); err != nil {
		return n, fmt.Errorf("failed to set counter expiry for form %d: %w", formID, err)
	}
	return n, nil
}

// Read returns the form's counter for the current month
func (l *Ledger) Read(ctx context.Context, formID uint) (int64, error) {
	key := counterKey(formID, l.now().Month())
	value, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read monthly counter for form %d: %w", formID, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt monthly counter for form %d: %w", formID, err)
	}
	return n, nil
}

// LimitFor returns the monthly limit applicable to a form. Forms
// created before the limit decrease keep the grandfathered limit.
func (l *Ledger) LimitFor(formID uint) int64 {
	if formID > l.decreaseSequence {
		return l.monthlyLimit
	}
	return l.grandfatherLimit
}
