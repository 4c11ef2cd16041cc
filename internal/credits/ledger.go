// Package credits implements the append-only monthly-granted credit ledger
// that guards every expensive operation in the system: research search,
// optimizer variant generation, and audit runs.
package credits

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"pulsebench/internal/apierrors"
	"pulsebench/internal/models"
	"pulsebench/internal/storage"
)

// Costs enumerates the credit price of every gated operation, sourced from
// configuration (CREDIT_COST_RESEARCH_SEARCH, CREDIT_COST_OPTIMIZER_VARIANTS,
// CREDIT_COST_AUDIT_RUN).
type Costs struct {
	ResearchSearch    int
	OptimizerVariants int
	AuditRun          int
}

// Ledger serializes read-modify-append credit operations per user so
// concurrent debits against the same account can never push the balance
// below zero. The teacher repo's storage layer already serializes entity
// mutation under one process-wide lock; Ledger adds a per-user mutex on top
// so a slow caller for one user never blocks balance reads for another.
type Ledger struct {
	store             storage.Repository
	monthlyGrant      int
	costs             Costs
	now               func() time.Time
	userLocksMu       sync.Mutex
	userLocks         map[string]*sync.Mutex
}

// New constructs a Ledger. monthlyGrant is the number of credits a user
// receives the first time any operation touches their account in a given
// calendar month (UTC).
func New(store storage.Repository, monthlyGrant int, costs Costs) *Ledger {
	return &Ledger{
		store:        store,
		monthlyGrant: monthlyGrant,
		costs:        costs,
		now:          func() time.Time { return time.Now().UTC() },
		userLocks:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(userID string) *sync.Mutex {
	l.userLocksMu.Lock()
	defer l.userLocksMu.Unlock()
	mu, ok := l.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		l.userLocks[userID] = mu
	}
	return mu
}

func periodKey(t time.Time) string {
	return t.Format("2006-01")
}

// Balance returns the user's current credit balance without side effects.
func (l *Ledger) Balance(userID string) int {
	return l.store.LatestBalance(userID)
}

// Costs returns the configured credit price table, letting callers such as
// the feed loop orchestrator look up a specific operation's cost before
// calling Consume.
func (l *Ledger) Costs() Costs {
	return l.costs
}

// EnsureMonthlyGrant appends a monthly_grant entry iff no grant entry exists
// yet for this user's current UTC period, then returns the resulting
// balance.
func (l *Ledger) EnsureMonthlyGrant(userID string) (int, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()
	return l.ensureMonthlyGrantLocked(userID)
}

func (l *Ledger) ensureMonthlyGrantLocked(userID string) (int, error) {
	period := periodKey(l.now())
	if l.store.HasLedgerEntryForPeriod(userID, period) {
		return l.store.LatestBalance(userID), nil
	}
	balance := l.store.LatestBalance(userID) + l.monthlyGrant
	_, err := l.store.AppendLedgerEntry(models.CreditLedger{
		UserID:       userID,
		EntryType:    models.LedgerMonthlyGrant,
		DeltaCredits: l.monthlyGrant,
		BalanceAfter: balance,
		Reason:       "monthly free credit grant",
		PeriodKey:    period,
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// ConsumeResult reports the outcome of a successful Consume call.
type ConsumeResult struct {
	Charged      int
	BalanceAfter int
}

// Consume atomically ensures the monthly grant has posted, re-reads the
// balance, and — if sufficient — appends a debit entry for cost. A
// non-positive cost is a no-op that still ensures the monthly grant and
// returns the current balance. Concurrent calls for the same user serialize
// on the ledger's per-user lock, so balance can never go negative.
func (l *Ledger) Consume(userID string, cost int, reason string, referenceType, referenceID string) (ConsumeResult, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	balance, err := l.ensureMonthlyGrantLocked(userID)
	if err != nil {
		return ConsumeResult{}, err
	}
	if cost <= 0 {
		return ConsumeResult{Charged: 0, BalanceAfter: balance}, nil
	}
	if balance < cost {
		return ConsumeResult{}, apierrors.InsufficientCredits(fmt.Sprintf("insufficient credits: balance=%d cost=%d", balance, cost))
	}

	newBalance := balance - cost
	entry := models.CreditLedger{
		UserID:        userID,
		EntryType:     models.LedgerDebit,
		DeltaCredits:  -cost,
		BalanceAfter:  newBalance,
		Reason:        reason,
		ReferenceType: referenceType,
		ReferenceID:   referenceID,
	}
	if _, err := l.store.AppendLedgerEntry(entry); err != nil {
		return ConsumeResult{}, err
	}
	return ConsumeResult{Charged: cost, BalanceAfter: newBalance}, nil
}

// Refund records a system-issued refund after a caller charged credits but
// the downstream operation failed before durable enqueue. The ledger stays
// append-only: a refund is a positive purchase entry, never a correction of
// the original debit.
func (l *Ledger) Refund(userID string, amount int, op, referenceID string) (int, error) {
	if amount <= 0 {
		return l.store.LatestBalance(userID), nil
	}
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	balance := l.store.LatestBalance(userID) + amount
	_, err := l.store.AppendLedgerEntry(models.CreditLedger{
		UserID:           userID,
		EntryType:        models.LedgerPurchase,
		DeltaCredits:     amount,
		BalanceAfter:     balance,
		Reason:           fmt.Sprintf("refund for failed %s", op),
		BillingProvider:  "system_refund",
		BillingReference: fmt.Sprintf("%s_refund:%s", op, referenceID),
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// AddPurchase records a billing-provider-fulfilled credit purchase.
func (l *Ledger) AddPurchase(userID string, creditsPurchased int, provider, billingReference string) (int, error) {
	mu := l.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	balance := l.store.LatestBalance(userID) + creditsPurchased
	_, err := l.store.AppendLedgerEntry(models.CreditLedger{
		UserID:           userID,
		EntryType:        models.LedgerPurchase,
		DeltaCredits:     creditsPurchased,
		BalanceAfter:     balance,
		Reason:           "credit purchase",
		BillingProvider:  provider,
		BillingReference: billingReference,
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

// Summary is the user-facing snapshot of ledger state returned by the
// credits summary endpoint.
type Summary struct {
	Balance       int                    `json:"balance"`
	PeriodKey     string                 `json:"period_key"`
	Costs         Costs                  `json:"costs"`
	RecentEntries []models.CreditLedger  `json:"recent_entries"`
}

// Summary returns the current balance, active period key, configured costs,
// and the most recent ledger entries (newest first, capped at limit).
func (l *Ledger) Summary(userID string, limit int) Summary {
	entries := append([]models.CreditLedger{}, l.store.ListLedgerEntries(userID)...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return Summary{
		Balance:       l.store.LatestBalance(userID),
		PeriodKey:     periodKey(l.now()),
		Costs:         l.costs,
		RecentEntries: entries,
	}
}
