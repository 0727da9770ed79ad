package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// In-memory Store. Mirrors the repository's contract: every mutation is
// atomic per user, the conditional emergency-unlock write is the
// authoritative decision, and settle is keyed on the activity id.
// ---------------------------------------------------------------------------

type txnRec struct {
	Type  string
	Cents int64
}

type memStore struct {
	mu        sync.Mutex
	pools     map[uuid.UUID]*Pool
	txns      map[uuid.UUID][]txnRec
	processed map[string]uuid.UUID
	payouts   map[uuid.UUID][]Payout

	lastLimit  int
	lastOffset int
}

func newMemStore(pools ...*Pool) *memStore {
	m := &memStore{
		pools:     make(map[uuid.UUID]*Pool),
		txns:      make(map[uuid.UUID][]txnRec),
		processed: make(map[string]uuid.UUID),
		payouts:   make(map[uuid.UUID][]Payout),
	}
	for _, p := range pools {
		cp := *p
		m.pools[p.UserID] = &cp
	}
	return m
}

func (m *memStore) Lock(_ context.Context, userID uuid.UUID, cents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[userID]
	if !ok {
		return ErrNotFound
	}
	p.CentsLocked += cents
	m.txns[userID] = append(m.txns[userID], txnRec{Type: TxLock, Cents: cents})
	return nil
}

func (m *memStore) EmergencyUnlock(_ context.Context, userID uuid.UUID, cents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[userID]
	if !ok {
		return ErrNotFound
	}
	if p.EmergencyUnlocksUsed >= EmergencyUnlockLimit {
		return ErrLimitReached
	}
	if p.CentsLocked < cents {
		return ErrInsufficient
	}
	p.CentsLocked -= cents
	p.EmergencyUnlocksUsed++
	m.txns[userID] = append(m.txns[userID], txnRec{Type: TxEmergencyUnlock, Cents: cents})
	return nil
}

func (m *memStore) Settle(_ context.Context, userID uuid.UUID, activityID string, cents int64) (SettleOutcome, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.processed[activityID]; done {
		return SettleAlreadyProcessed, 0, nil
	}
	m.processed[activityID] = userID
	var locked int64
	if p, ok := m.pools[userID]; ok {
		locked = p.CentsLocked
	}
	debit := cents
	if debit > locked {
		debit = locked
	}
	if debit < 0 {
		debit = 0
	}
	if p, ok := m.pools[userID]; ok {
		p.CentsLocked -= debit
	}
	m.payouts[userID] = append(m.payouts[userID], Payout{
		ID:         uuid.New(),
		UserID:     userID,
		ActivityID: activityID,
		Cents:      debit,
		CreatedAt:  time.Now(),
	})
	m.txns[userID] = append(m.txns[userID], txnRec{Type: TxRunPayout, Cents: debit})
	return SettleApplied, debit, nil
}

func (m *memStore) Snapshot(_ context.Context, userID uuid.UUID) (Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[userID]; ok {
		return *p, nil
	}
	return Pool{UserID: userID}, nil
}

func (m *memStore) ListPayouts(_ context.Context, userID uuid.UUID, limit, offset int) ([]Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	m.lastOffset = offset
	all := m.payouts[userID]
	// newest first
	out := make([]Payout, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) balance(userID uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[userID]; ok {
		return p.CentsLocked
	}
	return 0
}

func (m *memStore) unlocksUsed(userID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[userID]; ok {
		return p.EmergencyUnlocksUsed
	}
	return 0
}

func (m *memStore) payoutsFor(userID uuid.UUID) []Payout {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Payout, len(m.payouts[userID]))
	copy(out, m.payouts[userID])
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestLockValidation(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user})
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.Lock(ctx, user, 0); err != ErrBadAmount {
		t.Errorf("lock 0 cents: got %v, want ErrBadAmount", err)
	}
	if err := svc.Lock(ctx, user, -50); err != ErrBadAmount {
		t.Errorf("lock negative cents: got %v, want ErrBadAmount", err)
	}
	if err := svc.Lock(ctx, uuid.New(), 100); err != ErrNotFound {
		t.Errorf("lock unknown user: got %v, want ErrNotFound", err)
	}
	if err := svc.Lock(ctx, user, 250); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if got := store.balance(user); got != 250 {
		t.Errorf("balance after lock: got %d, want 250", got)
	}
}

func TestEmergencyUnlockScenario(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 1000})
	svc := NewService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.EmergencyUnlock(ctx, user, 300); err != nil {
			t.Fatalf("unlock %d: %v", i+1, err)
		}
	}
	if got := store.balance(user); got != 100 {
		t.Errorf("balance after three unlocks: got %d, want 100", got)
	}
	if got := store.unlocksUsed(user); got != 3 {
		t.Errorf("unlocks used: got %d, want 3", got)
	}

	if err := svc.EmergencyUnlock(ctx, user, 50); err != ErrLimitReached {
		t.Errorf("fourth unlock: got %v, want ErrLimitReached", err)
	}
	if got := store.balance(user); got != 100 {
		t.Errorf("balance after rejected unlock: got %d, want 100", got)
	}
}

func TestEmergencyUnlockInsufficient(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 100})
	svc := NewService(store)

	if err := svc.EmergencyUnlock(context.Background(), user, 200); err != ErrInsufficient {
		t.Errorf("got %v, want ErrInsufficient", err)
	}
	if got := store.balance(user); got != 100 {
		t.Errorf("balance changed on failed unlock: got %d", got)
	}
}

func TestConcurrentEmergencyUnlocks(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 100000})
	svc := NewService(store)
	ctx := context.Background()

	const calls = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.EmergencyUnlock(ctx, user, 100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != EmergencyUnlockLimit {
		t.Errorf("successful unlocks: got %d, want %d", succeeded, EmergencyUnlockLimit)
	}
	if got := store.unlocksUsed(user); got != EmergencyUnlockLimit {
		t.Errorf("unlocks used: got %d, want %d", got, EmergencyUnlockLimit)
	}
	if got := store.balance(user); got != 100000-int64(EmergencyUnlockLimit)*100 {
		t.Errorf("balance: got %d", got)
	}
}

func TestSettleIdempotent(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 1000})
	svc := NewService(store)
	ctx := context.Background()

	outcome, debited, err := svc.Settle(ctx, user, "act-1", 500)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if outcome != SettleApplied || debited != 500 {
		t.Fatalf("first settle: outcome=%v debited=%d", outcome, debited)
	}

	outcome, debited, err = svc.Settle(ctx, user, "act-1", 500)
	if err != nil {
		t.Fatalf("settle replay: %v", err)
	}
	if outcome != SettleAlreadyProcessed || debited != 0 {
		t.Errorf("replay: outcome=%v debited=%d, want AlreadyProcessed/0", outcome, debited)
	}
	if got := store.balance(user); got != 500 {
		t.Errorf("balance debited more than once: got %d, want 500", got)
	}
	if got := len(store.payoutsFor(user)); got != 1 {
		t.Errorf("payout rows: got %d, want 1", got)
	}
}

func TestSettleCapsAtBalance(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 120})
	svc := NewService(store)

	_, debited, err := svc.Settle(context.Background(), user, "act-2", 500)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if debited != 120 {
		t.Errorf("debited: got %d, want 120", debited)
	}
	if got := store.balance(user); got != 0 {
		t.Errorf("balance: got %d, want 0", got)
	}
	payouts := store.payoutsFor(user)
	if len(payouts) != 1 || payouts[0].Cents != 120 {
		t.Errorf("payout row should record the actual debit (120), got %+v", payouts)
	}
}

func TestSettleNegativeCentsRejected(t *testing.T) {
	svc := NewService(newMemStore())
	if _, _, err := svc.Settle(context.Background(), uuid.New(), "act-3", -1); err != ErrBadAmount {
		t.Errorf("got %v, want ErrBadAmount", err)
	}
}

// Balance must always equal the transaction-log sum and never go
// negative, whatever the operation mix.
func TestLedgerConservation(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user})
	svc := NewService(store)
	ctx := context.Background()

	_ = svc.Lock(ctx, user, 1000)
	_ = svc.Lock(ctx, user, 500)
	_ = svc.EmergencyUnlock(ctx, user, 400)
	_, _, _ = svc.Settle(ctx, user, "a1", 300)
	_ = svc.EmergencyUnlock(ctx, user, 9999) // insufficient, no effect
	_, _, _ = svc.Settle(ctx, user, "a2", 5000)
	_, _, _ = svc.Settle(ctx, user, "a2", 5000) // replay, no effect

	var sum int64
	store.mu.Lock()
	for _, rec := range store.txns[user] {
		switch rec.Type {
		case TxLock:
			sum += rec.Cents
		case TxEmergencyUnlock, TxRunPayout:
			sum -= rec.Cents
		}
	}
	store.mu.Unlock()

	if got := store.balance(user); got != sum {
		t.Errorf("balance %d != transaction sum %d", got, sum)
	}
	if got := store.balance(user); got < 0 {
		t.Errorf("balance went negative: %d", got)
	}
}

func TestListPayoutsClamps(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 10000})
	svc := NewService(store)
	ctx := context.Background()

	if _, err := svc.ListPayouts(ctx, user, 0, -7); err != nil {
		t.Fatal(err)
	}
	if store.lastLimit != 50 || store.lastOffset != 0 {
		t.Errorf("defaults: limit=%d offset=%d, want 50/0", store.lastLimit, store.lastOffset)
	}
	if _, err := svc.ListPayouts(ctx, user, 5000, 10); err != nil {
		t.Fatal(err)
	}
	if store.lastLimit != 200 {
		t.Errorf("limit clamp: got %d, want 200", store.lastLimit)
	}
}

func TestListPayoutsNewestFirst(t *testing.T) {
	user := uuid.New()
	store := newMemStore(&Pool{UserID: user, CentsLocked: 10000})
	svc := NewService(store)
	ctx := context.Background()

	for _, act := range []string{"first", "second", "third"} {
		if _, _, err := svc.Settle(ctx, user, act, 10); err != nil {
			t.Fatal(err)
		}
	}
	got, err := svc.ListPayouts(ctx, user, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ActivityID != "third" || got[2].ActivityID != "first" {
		ids := make([]string, len(got))
		for i, p := range got {
			ids[i] = p.ActivityID
		}
		t.Errorf("order: got %v, want [third second first]", ids)
	}
}
