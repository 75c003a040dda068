package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmarchuk/contentledger/internal/domain"
	"github.com/dmarchuk/contentledger/internal/treasury"
)

var (
	ErrDuplicateContent  = errors.New("content already exists")
	ErrContentNotFound   = errors.New("content not found")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrAlreadyPurchased  = errors.New("already purchased")
	ErrIncorrectPayment  = errors.New("payment does not match price")
	ErrPaymentRejected   = errors.New("payment rejected by custody")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrTransferFailed    = errors.New("transfer failed")
	ErrUnauthorized      = errors.New("caller is not the owner")
	ErrInvalidFee        = errors.New("fee percent out of range")
)

// maxPrice keeps price*feePercent inside int64 for any fee in [0,100].
const maxPrice = math.MaxInt64 / 100

// Journal receives durable copies of committed ledger facts. RecordContent
// and RecordPayment run before the in-memory commit and abort the operation
// on error; RecordWithdrawal runs after the outbound transfer succeeded.
type Journal interface {
	RecordContent(ctx context.Context, rec domain.ContentRecord) error
	RecordPayment(ctx context.Context, purchase domain.PurchaseRecord, receipt domain.PaymentReceipt) error
	RecordWithdrawal(ctx context.Context, creator string, amount int64, at time.Time) error
}

// Snapshot is the boot-time state reloaded from a journal.
type Snapshot struct {
	Contents  []domain.ContentRecord
	Purchases []domain.PurchaseRecord
	Balances  map[string]int64
}

type purchaseKey struct {
	buyer     string
	contentID string
}

// Ledger owns all content records, purchase records and creator balances,
// and enforces the money-safety invariants on every operation. Each public
// operation is all-or-nothing: validation and commit happen under the state
// mutex, while external custody calls happen strictly between a reservation
// and the final commit so the mutex is never held across them.
type Ledger struct {
	custody treasury.Treasury
	journal Journal
	log     *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	owner     string
	feePct    int
	contents  map[string]domain.ContentRecord
	purchases map[purchaseKey]domain.PurchaseRecord

	// balances is committed funds only. inflight carries reservations:
	// credits validated but not yet committed, plus amounts zeroed for an
	// in-progress withdrawal. Overflow checks always include both, so a
	// commit or a rollback can never fail.
	balances map[string]int64
	inflight map[string]int64

	// reservation sets close the validate/commit window against
	// concurrent duplicates, same idea as an in_progress idempotency row.
	pendingContent  map[string]struct{}
	pendingPurchase map[purchaseKey]struct{}
}

// Options carries the optional ledger collaborators.
type Options struct {
	Journal Journal
	Logger  *zap.Logger
	Now     func() time.Time
}

func New(owner string, feePct int, custody treasury.Treasury, opts Options) (*Ledger, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("owner identity is required")
	}
	if feePct < 0 || feePct > 100 {
		return nil, ErrInvalidFee
	}
	if custody == nil {
		return nil, fmt.Errorf("custody treasury is required")
	}

	l := &Ledger{
		custody:         custody,
		journal:         opts.Journal,
		log:             opts.Logger,
		now:             opts.Now,
		owner:           owner,
		feePct:          feePct,
		contents:        make(map[string]domain.ContentRecord),
		purchases:       make(map[purchaseKey]domain.PurchaseRecord),
		balances:        make(map[string]int64),
		inflight:        make(map[string]int64),
		pendingContent:  make(map[string]struct{}),
		pendingPurchase: make(map[purchaseKey]struct{}),
	}
	if l.journal == nil {
		l.journal = NoopJournal{}
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Restore loads a journal snapshot. It must run before the ledger serves
// traffic; it does not touch custody.
func (l *Ledger) Restore(snap Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, rec := range snap.Contents {
		if _, exists := l.contents[rec.ID]; exists {
			return fmt.Errorf("restore: duplicate content %q", rec.ID)
		}
		l.contents[rec.ID] = rec
	}
	for _, p := range snap.Purchases {
		key := purchaseKey{buyer: p.Buyer, contentID: p.ContentID}
		if _, exists := l.purchases[key]; exists {
			return fmt.Errorf("restore: duplicate purchase %q/%q", p.Buyer, p.ContentID)
		}
		l.purchases[key] = p
	}
	for identity, balance := range snap.Balances {
		if balance < 0 {
			return fmt.Errorf("restore: negative balance for %q", identity)
		}
		l.balances[identity] = balance
	}
	return nil
}

// Owner reports the administrative identity fixed at construction.
func (l *Ledger) Owner() string { return l.owner }

// FeePercent reports the current platform fee percentage.
func (l *Ledger) FeePercent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.feePct
}

// SetPlatformFee updates the platform fee. Only the owner may call it.
func (l *Ledger) SetPlatformFee(caller string, pct int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrUnauthorized
	}
	if pct < 0 || pct > 100 {
		return ErrInvalidFee
	}
	l.feePct = pct
	return nil
}

// RegisterContent creates a write-once content record owned by caller.
// Zero-price content is valid: access is still tracked per buyer.
func (l *Ledger) RegisterContent(ctx context.Context, caller, contentID string, price int64) error {
	caller = strings.TrimSpace(caller)
	contentID = strings.TrimSpace(contentID)
	if caller == "" || contentID == "" {
		return fmt.Errorf("creator and content id are required")
	}
	if price < 0 || price > maxPrice {
		return ErrInvalidPrice
	}

	rec := domain.ContentRecord{
		ID:           contentID,
		Creator:      caller,
		Price:        price,
		RegisteredAt: l.now().UTC(),
	}

	l.mu.Lock()
	if _, exists := l.contents[contentID]; exists {
		l.mu.Unlock()
		return ErrDuplicateContent
	}
	if _, reserved := l.pendingContent[contentID]; reserved {
		l.mu.Unlock()
		return ErrDuplicateContent
	}
	l.pendingContent[contentID] = struct{}{}
	l.mu.Unlock()

	if err := l.journal.RecordContent(ctx, rec); err != nil {
		l.mu.Lock()
		delete(l.pendingContent, contentID)
		l.mu.Unlock()
		return fmt.Errorf("journal content: %w", err)
	}

	l.mu.Lock()
	delete(l.pendingContent, contentID)
	l.contents[contentID] = rec
	l.mu.Unlock()
	return nil
}

// ContentInfo returns the registered creator and price for a content id.
func (l *Ledger) ContentInfo(contentID string) (domain.ContentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.contents[contentID]
	if !ok {
		return domain.ContentRecord{}, ErrContentNotFound
	}
	return rec, nil
}

// MakePayment unlocks contentID for buyer in exchange for exactly the
// registered price. The fee split commits atomically with the purchase
// record; on any failure after funds were collected the buyer is refunded
// in full and no state changes.
func (l *Ledger) MakePayment(ctx context.Context, buyer, contentID string, paid int64) (domain.PaymentReceipt, error) {
	buyer = strings.TrimSpace(buyer)
	contentID = strings.TrimSpace(contentID)
	if buyer == "" || contentID == "" {
		return domain.PaymentReceipt{}, fmt.Errorf("buyer and content id are required")
	}
	key := purchaseKey{buyer: buyer, contentID: contentID}

	// Phase 1: validate and reserve. The purchase slot and the balance
	// headroom are both claimed here, so the commit below cannot fail
	// and no concurrent call can double-sell the same slot.
	l.mu.Lock()
	rec, ok := l.contents[contentID]
	if !ok {
		l.mu.Unlock()
		return domain.PaymentReceipt{}, ErrContentNotFound
	}
	if _, bought := l.purchases[key]; bought {
		l.mu.Unlock()
		return domain.PaymentReceipt{}, ErrAlreadyPurchased
	}
	if _, reserved := l.pendingPurchase[key]; reserved {
		l.mu.Unlock()
		return domain.PaymentReceipt{}, ErrAlreadyPurchased
	}
	if paid != rec.Price {
		l.mu.Unlock()
		return domain.PaymentReceipt{}, ErrIncorrectPayment
	}

	fee := rec.Price * int64(l.feePct) / 100
	share := rec.Price - fee

	// Reserve the share before checking the fee leg: when the creator is
	// the owner both legs land on one balance, and the second check must
	// see the first reservation.
	if !l.headroomLocked(rec.Creator, share) {
		l.mu.Unlock()
		return domain.PaymentReceipt{}, ErrBalanceOverflow
	}
	if share > 0 {
		l.inflight[rec.Creator] += share
	}
	if !l.headroomLocked(l.owner, fee) {
		l.releaseInflightLocked(rec.Creator, share)
		l.mu.Unlock()
		return domain.PaymentReceipt{}, ErrBalanceOverflow
	}
	if fee > 0 {
		l.inflight[l.owner] += fee
	}
	l.pendingPurchase[key] = struct{}{}
	l.mu.Unlock()

	abort := func() {
		l.mu.Lock()
		delete(l.pendingPurchase, key)
		l.releaseInflightLocked(rec.Creator, share)
		l.releaseInflightLocked(l.owner, fee)
		l.mu.Unlock()
	}

	// Phase 2: move value into custody. Free content skips custody
	// entirely; there is nothing to move.
	collected := false
	if paid > 0 {
		if err := l.custody.Collect(ctx, buyer, paid); err != nil {
			abort()
			return domain.PaymentReceipt{}, fmt.Errorf("%w: %v", ErrPaymentRejected, err)
		}
		collected = true
	}

	purchase := domain.PurchaseRecord{
		Buyer:     buyer,
		ContentID: contentID,
		PaidAt:    l.now().UTC(),
	}
	receipt := domain.PaymentReceipt{
		Buyer:        buyer,
		ContentID:    contentID,
		Amount:       paid,
		Creator:      rec.Creator,
		CreatorShare: share,
		Platform:     l.owner,
		PlatformFee:  fee,
	}

	if err := l.journal.RecordPayment(ctx, purchase, receipt); err != nil {
		l.refund(ctx, buyer, paid, collected)
		abort()
		return domain.PaymentReceipt{}, fmt.Errorf("journal payment: %w", err)
	}

	// Phase 3: commit. Headroom was reserved above, so this cannot fail.
	l.mu.Lock()
	delete(l.pendingPurchase, key)
	l.releaseInflightLocked(rec.Creator, share)
	l.releaseInflightLocked(l.owner, fee)
	l.balances[rec.Creator] += share
	l.balances[l.owner] += fee
	l.purchases[key] = purchase
	l.mu.Unlock()

	return receipt, nil
}

// CheckAccess reports whether user may read contentID. Creators always
// have access to their own content; unknown content is simply false.
func (l *Ledger) CheckAccess(user, contentID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.contents[contentID]
	if !ok {
		return false
	}
	if rec.Creator == user {
		return true
	}
	_, bought := l.purchases[purchaseKey{buyer: user, contentID: contentID}]
	return bought
}

// GetBalance returns the withdrawable ledger balance for identity,
// zero for identities the ledger has never credited.
func (l *Ledger) GetBalance(identity string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[identity]
}

// WithdrawFunds pays out the caller's entire accrued balance. The balance
// is zeroed before the outbound transfer starts, so any call re-entering
// the ledger while the transfer runs observes zero and cannot withdraw
// twice. A failed transfer restores the balance exactly.
func (l *Ledger) WithdrawFunds(ctx context.Context, caller string) (domain.WithdrawReceipt, error) {
	l.mu.Lock()
	amount := l.balances[caller]
	if amount <= 0 {
		l.mu.Unlock()
		return domain.WithdrawReceipt{}, ErrNothingToWithdraw
	}
	// Zero first; park the amount in inflight so concurrent credit
	// headroom checks still account for it and the rollback below can
	// never overflow.
	l.balances[caller] = 0
	l.inflight[caller] += amount
	l.mu.Unlock()

	if err := l.custody.Payout(ctx, caller, amount); err != nil {
		l.mu.Lock()
		l.releaseInflightLocked(caller, amount)
		l.balances[caller] += amount
		l.mu.Unlock()
		return domain.WithdrawReceipt{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.mu.Lock()
	l.releaseInflightLocked(caller, amount)
	l.mu.Unlock()

	at := l.now().UTC()
	if err := l.journal.RecordWithdrawal(ctx, caller, amount, at); err != nil {
		// The funds already moved; the withdrawal stands. The journal is
		// reconciled out of band.
		l.log.Error("journal withdrawal",
			zap.String("creator", caller),
			zap.Int64("amount", amount),
			zap.Error(err))
	}

	return domain.WithdrawReceipt{Creator: caller, Amount: amount}, nil
}

// refund returns collected value to the buyer after an aborted payment.
func (l *Ledger) refund(ctx context.Context, buyer string, amount int64, collected bool) {
	if !collected || amount <= 0 {
		return
	}
	if err := l.custody.Payout(ctx, buyer, amount); err != nil {
		// Custody is trusted to not fail a refund of value it just
		// accepted; if it does, the discrepancy must be visible.
		l.log.Error("refund failed",
			zap.String("buyer", buyer),
			zap.Int64("amount", amount),
			zap.Error(err))
	}
}

// headroomLocked reports whether identity can absorb delta more credit,
// counting both committed and inflight amounts. Caller holds l.mu.
func (l *Ledger) headroomLocked(identity string, delta int64) bool {
	if delta == 0 {
		return true
	}
	committed := l.balances[identity]
	reserved := l.inflight[identity]
	if committed > math.MaxInt64-reserved {
		return false
	}
	return committed+reserved <= math.MaxInt64-delta
}

// releaseInflightLocked drops a reservation, pruning zero entries so the
// map does not accumulate dead identities. Caller holds l.mu.
func (l *Ledger) releaseInflightLocked(identity string, delta int64) {
	if delta == 0 {
		return
	}
	l.inflight[identity] -= delta
	if l.inflight[identity] <= 0 {
		delete(l.inflight, identity)
	}
}

// NoopJournal discards all records; used when no durable store is configured.
type NoopJournal struct{}

func (NoopJournal) RecordContent(context.Context, domain.ContentRecord) error { return nil }
func (NoopJournal) RecordPayment(context.Context, domain.PurchaseRecord, domain.PaymentReceipt) error {
	return nil
}
func (NoopJournal) RecordWithdrawal(context.Context, string, int64, time.Time) error { return nil }
