// Package budget holds the token ledger shared by concurrent runs.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/quantforge/alphagate/internal/domain"
)

// Backend is the narrow check-and-reserve contract of a ledger scope.
type Backend interface {
	CheckAndReserve(tokens int64, scope domain.BudgetScope) bool
	Release(tokens int64, scope domain.BudgetScope)
}

var _ Backend = (*Ledger)(nil)

// Limits caps token usage per scope. Zero means unlimited. The request
// limit caps a single reservation and is not accumulated.
type Limits struct {
	Request int64
	Batch   int64
	Day     int64
}

// ScopeError reports the scope that refused a reservation.
// It matches domain.ErrBudgetExceeded under errors.Is.
type ScopeError struct {
	Scope domain.BudgetScope
	Need  int64
	Used  int64
	Limit int64
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s budget: need %d tokens, %d of %d used", e.Scope, e.Need, e.Used, e.Limit)
}

func (e *ScopeError) Unwrap() error { return domain.ErrBudgetExceeded }

// Ledger tracks reserved tokens at request, batch and day granularity.
// All operations are serialized by one mutex, so a check and its increment
// can never interleave with another run's.
type Ledger struct {
	mu          sync.Mutex
	limits      Limits
	lastRequest int64
	batch       int64
	dayUsed     int64
	day         string
	now         func() time.Time

	// WarnRatio is the fraction of a limit at which status turns to warn (default 0.8).
	WarnRatio float64
	// HaltRatio is the fraction of a limit at which status turns to halt (default 1.0).
	HaltRatio float64
}

// NewLedger creates a ledger with standard thresholds.
func NewLedger(limits Limits) *Ledger {
	return NewLedgerWithClock(limits, time.Now)
}

// NewLedgerWithClock creates a ledger whose day boundary follows now.
func NewLedgerWithClock(limits Limits, now func() time.Time) *Ledger {
	l := &Ledger{
		limits:    limits,
		now:       now,
		WarnRatio: 0.8,
		HaltRatio: 1.0,
	}
	l.day = l.dayKey()
	return l
}

func (l *Ledger) dayKey() string {
	return l.now().UTC().Format("2006-01-02")
}

// rollover resets the day counter when the UTC date changed. Callers hold mu.
func (l *Ledger) rollover() {
	if d := l.dayKey(); d != l.day {
		l.day = d
		l.dayUsed = 0
	}
}

// Day returns the UTC date the day counter belongs to.
func (l *Ledger) Day() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.day
}

// Seed sets today's usage, typically from persisted records at startup.
func (l *Ledger) Seed(dayUsed int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.dayUsed = max(0, dayUsed)
}

// ResetBatch starts a new batch.
func (l *Ledger) ResetBatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.batch = 0
}

// CheckAndReserve reserves tokens against a single scope.
func (l *Ledger) CheckAndReserve(tokens int64, scope domain.BudgetScope) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	if l.refuse(tokens, scope) != nil {
		return false
	}
	l.add(tokens, scope)
	return true
}

// Release returns tokens to a single scope.
func (l *Ledger) Release(tokens int64, scope domain.BudgetScope) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.add(-tokens, scope)
}

var allScopes = []domain.BudgetScope{domain.ScopeRequest, domain.ScopeBatch, domain.ScopeDay}

// ReserveAll reserves tokens against every scope, or against none. The
// returned error is a *ScopeError naming the first scope that refused.
func (l *Ledger) ReserveAll(tokens int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	for _, s := range allScopes {
		if err := l.refuse(tokens, s); err != nil {
			return err
		}
	}
	for _, s := range allScopes {
		l.add(tokens, s)
	}
	return nil
}

// ReleaseAll undoes a ReserveAll.
func (l *Ledger) ReleaseAll(tokens int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	for _, s := range allScopes {
		l.add(-tokens, s)
	}
}

func (l *Ledger) refuse(tokens int64, scope domain.BudgetScope) *ScopeError {
	used, limit := l.usage(scope)
	if scope == domain.ScopeRequest {
		used = 0
	}
	if limit > 0 && used+tokens > limit {
		return &ScopeError{Scope: scope, Need: tokens, Used: used, Limit: limit}
	}
	return nil
}

func (l *Ledger) add(tokens int64, scope domain.BudgetScope) {
	switch scope {
	case domain.ScopeRequest:
		l.lastRequest = max(0, tokens)
	case domain.ScopeBatch:
		l.batch = max(0, l.batch+tokens)
	case domain.ScopeDay:
		l.dayUsed = max(0, l.dayUsed+tokens)
	}
}

func (l *Ledger) usage(scope domain.BudgetScope) (used, limit int64) {
	switch scope {
	case domain.ScopeRequest:
		return l.lastRequest, l.limits.Request
	case domain.ScopeBatch:
		return l.batch, l.limits.Batch
	case domain.ScopeDay:
		return l.dayUsed, l.limits.Day
	}
	return 0, 0
}

// Status reports usage and the warn/halt action for every scope.
func (l *Ledger) Status() []domain.ScopeUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	out := make([]domain.ScopeUsage, 0, len(allScopes))
	for _, s := range allScopes {
		used, limit := l.usage(s)
		out = append(out, domain.ScopeUsage{Scope: s, Used: used, Limit: limit, Action: l.evaluate(used, limit)})
	}
	return out
}

// Action is the most severe action across scopes.
func (l *Ledger) Action() domain.CostAction {
	action := domain.CostContinue
	for _, u := range l.Status() {
		switch u.Action {
		case domain.CostHalt:
			return domain.CostHalt
		case domain.CostWarn:
			action = domain.CostWarn
		}
	}
	return action
}

func (l *Ledger) evaluate(used, limit int64) domain.CostAction {
	if limit <= 0 {
		return domain.CostContinue
	}
	ratio := float64(used) / float64(limit)
	if ratio >= l.HaltRatio {
		return domain.CostHalt
	}
	if ratio >= l.WarnRatio {
		return domain.CostWarn
	}
	return domain.CostContinue
}
