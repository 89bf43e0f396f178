// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/points-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	batches     map[ledger.BatchID]*ledger.PointBatch
	spends      []ledger.SpendTransaction
	links       []ledger.ConsumptionLink
	adjustments []ledger.AdjustmentTransaction
	users       map[ledger.UserID]ledger.User

	// seq breaks created_at ties so history ordering is deterministic even
	// when entries share a timestamp.
	seq   int64
	seqOf map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		batches: make(map[ledger.BatchID]*ledger.PointBatch),
		users:   make(map[ledger.UserID]ledger.User),
		seqOf:   make(map[string]int64),
	}
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = make(map[ledger.BatchID]*ledger.PointBatch)
	m.spends = nil
	m.links = nil
	m.adjustments = nil
	m.users = make(map[ledger.UserID]ledger.User)
	m.seq = 0
	m.seqOf = make(map[string]int64)
	return nil
}

// --- point batches ---

func (m *Memory) InsertBatch(_ context.Context, b ledger.PointBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBatchLocked(b)
}

func (m *Memory) insertBatchLocked(b ledger.PointBatch) error {
	cp := b
	if cp.Version == 0 {
		cp.Version = 1
	}
	m.batches[b.ID] = &cp
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.PointBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBatchLocked(id)
}

func (m *Memory) getBatchLocked(id ledger.BatchID) (*ledger.PointBatch, error) {
	b, ok := m.batches[id]
	if !ok {
		return nil, ledger.ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) BatchesByUser(_ context.Context, userID ledger.UserID) ([]ledger.PointBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchesByUserLocked(userID)
}

func (m *Memory) batchesByUserLocked(userID ledger.UserID) ([]ledger.PointBatch, error) {
	var result []ledger.PointBatch
	for _, b := range m.batches {
		if b.UserID == userID {
			result = append(result, *b)
		}
	}
	sortBatches(result)
	return result, nil
}

func (m *Memory) BatchesByReservation(_ context.Context, reservationID ledger.ReservationID) ([]ledger.PointBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batchesByReservationLocked(reservationID)
}

func (m *Memory) batchesByReservationLocked(reservationID ledger.ReservationID) ([]ledger.PointBatch, error) {
	var result []ledger.PointBatch
	for _, b := range m.batches {
		if b.SourceReservationID == reservationID && b.SourceReservationID != "" {
			result = append(result, *b)
		}
	}
	sortBatches(result)
	return result, nil
}

func sortBatches(batches []ledger.PointBatch) {
	sort.SliceStable(batches, func(i, j int) bool {
		a, b := batches[i], batches[j]
		if !a.AvailableFrom.Equal(b.AvailableFrom) {
			return a.AvailableFrom.Before(b.AvailableFrom)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (m *Memory) UpdateBatchRemaining(_ context.Context, id ledger.BatchID, remaining ledger.Points, status ledger.BatchStatus, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBatchRemainingLocked(id, remaining, status, expectedVersion)
}

func (m *Memory) updateBatchRemainingLocked(id ledger.BatchID, remaining ledger.Points, status ledger.BatchStatus, expectedVersion int64) error {
	b, ok := m.batches[id]
	if !ok {
		return ledger.ErrBatchNotFound
	}
	if b.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	b.RemainingAmount = remaining
	b.Status = status
	b.Version++
	return nil
}

func (m *Memory) ExpiredUnmarked(_ context.Context, now time.Time) ([]ledger.PointBatch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.PointBatch
	for _, b := range m.batches {
		if b.RemainingAmount > 0 && b.ExpiredAt(now) && b.Status != ledger.StatusExpired {
			result = append(result, *b)
		}
	}
	sortBatches(result)
	return result, nil
}

// --- spend transactions ---

func (m *Memory) InsertSpend(_ context.Context, s ledger.SpendTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertSpendLocked(s)
}

func (m *Memory) insertSpendLocked(s ledger.SpendTransaction) error {
	m.spends = append(m.spends, s)
	m.seq++
	m.seqOf[string(s.ID)] = m.seq
	return nil
}

func (m *Memory) SpendsByUser(_ context.Context, userID ledger.UserID) ([]ledger.SpendTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spendsByUserLocked(userID)
}

func (m *Memory) spendsByUserLocked(userID ledger.UserID) ([]ledger.SpendTransaction, error) {
	var result []ledger.SpendTransaction
	for _, s := range m.spends {
		if s.UserID == userID {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *Memory) SpendsByReservation(_ context.Context, reservationID ledger.ReservationID) ([]ledger.SpendTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spendsByReservationLocked(reservationID)
}

func (m *Memory) spendsByReservationLocked(reservationID ledger.ReservationID) ([]ledger.SpendTransaction, error) {
	var result []ledger.SpendTransaction
	for _, s := range m.spends {
		if s.ReservationID == reservationID && s.ReservationID != "" {
			result = append(result, s)
		}
	}
	return result, nil
}

// --- consumption links ---

func (m *Memory) InsertLinks(_ context.Context, links []ledger.ConsumptionLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLinksLocked(links)
}

func (m *Memory) insertLinksLocked(links []ledger.ConsumptionLink) error {
	m.links = append(m.links, links...)
	return nil
}

func (m *Memory) LinksBySpend(_ context.Context, spendID ledger.SpendID) ([]ledger.ConsumptionLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linksBySpendLocked(spendID)
}

func (m *Memory) linksBySpendLocked(spendID ledger.SpendID) ([]ledger.ConsumptionLink, error) {
	var result []ledger.ConsumptionLink
	for _, l := range m.links {
		if l.SpendTransactionID == spendID {
			result = append(result, l)
		}
	}
	return result, nil
}

// --- adjustment transactions ---

func (m *Memory) InsertAdjustment(_ context.Context, a ledger.AdjustmentTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAdjustmentLocked(a)
}

func (m *Memory) insertAdjustmentLocked(a ledger.AdjustmentTransaction) error {
	m.adjustments = append(m.adjustments, a)
	m.seq++
	m.seqOf[string(a.ID)] = m.seq
	return nil
}

func (m *Memory) AdjustmentsByUser(_ context.Context, userID ledger.UserID) ([]ledger.AdjustmentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adjustmentsByUserLocked(userID)
}

func (m *Memory) adjustmentsByUserLocked(userID ledger.UserID) ([]ledger.AdjustmentTransaction, error) {
	var result []ledger.AdjustmentTransaction
	for _, a := range m.adjustments {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (m *Memory) AdjustmentsByRefund(_ context.Context, reservationID ledger.ReservationID, kind ledger.AdjustmentKind, refundID string) ([]ledger.AdjustmentTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adjustmentsByRefundLocked(reservationID, kind, refundID)
}

func (m *Memory) adjustmentsByRefundLocked(reservationID ledger.ReservationID, kind ledger.AdjustmentKind, refundID string) ([]ledger.AdjustmentTransaction, error) {
	var result []ledger.AdjustmentTransaction
	for _, a := range m.adjustments {
		if a.ReservationID == reservationID && a.Kind == kind && a.RefundID == refundID {
			result = append(result, a)
		}
	}
	return result, nil
}

// --- usage history ---

func (m *Memory) UsageHistory(_ context.Context, userID ledger.UserID, limit, offset int) ([]ledger.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.usageHistoryLocked(userID, limit, offset)
}

func (m *Memory) usageHistoryLocked(userID ledger.UserID, limit, offset int) ([]ledger.HistoryEntry, error) {
	var entries []ledger.HistoryEntry
	for _, s := range m.spends {
		if s.UserID != userID {
			continue
		}
		entries = append(entries, ledger.HistoryEntry{
			Kind:          ledger.HistorySpend,
			ID:            string(s.ID),
			Amount:        s.Amount,
			ReservationID: s.ReservationID,
			Description:   s.Description,
			CreatedAt:     s.CreatedAt,
		})
	}
	for _, a := range m.adjustments {
		if a.UserID != userID {
			continue
		}
		entries = append(entries, ledger.HistoryEntry{
			Kind:          ledger.HistoryAdjustment,
			ID:            string(a.ID),
			Amount:        a.Amount,
			ReservationID: a.ReservationID,
			RefundID:      a.RefundID,
			Description:   string(a.Kind),
			CreatedAt:     a.CreatedAt,
		})
	}

	// Newest first; insertion order breaks timestamp ties.
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return m.seqOf[entries[i].ID] > m.seqOf[entries[j].ID]
	})

	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- users ---

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	batches     map[ledger.BatchID]*ledger.PointBatch
	spends      []ledger.SpendTransaction
	links       []ledger.ConsumptionLink
	adjustments []ledger.AdjustmentTransaction
	users       map[ledger.UserID]ledger.User
	seq         int64
	seqOf       map[string]int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	batchesCopy := make(map[ledger.BatchID]*ledger.PointBatch, len(tm.batches))
	for id, b := range tm.batches {
		cp := *b
		batchesCopy[id] = &cp
	}
	usersCopy := make(map[ledger.UserID]ledger.User, len(tm.users))
	for id, u := range tm.users {
		usersCopy[id] = u
	}
	seqCopy := make(map[string]int64, len(tm.seqOf))
	for k, v := range tm.seqOf {
		seqCopy[k] = v
	}
	return memorySnapshot{
		batches:     batchesCopy,
		spends:      append([]ledger.SpendTransaction{}, tm.spends...),
		links:       append([]ledger.ConsumptionLink{}, tm.links...),
		adjustments: append([]ledger.AdjustmentTransaction{}, tm.adjustments...),
		users:       usersCopy,
		seq:         tm.seq,
		seqOf:       seqCopy,
	}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.batches = s.batches
	tm.spends = s.spends
	tm.links = s.links
	tm.adjustments = s.adjustments
	tm.users = s.users
	tm.seq = s.seq
	tm.seqOf = s.seqOf
}

// txMemoryView forwards to the parent's locked helpers; the parent mutex is
// held for the duration of WithTx.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) InsertBatch(_ context.Context, b ledger.PointBatch) error {
	return tv.parent.insertBatchLocked(b)
}

func (tv *txMemoryView) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.PointBatch, error) {
	return tv.parent.getBatchLocked(id)
}

func (tv *txMemoryView) BatchesByUser(_ context.Context, userID ledger.UserID) ([]ledger.PointBatch, error) {
	return tv.parent.batchesByUserLocked(userID)
}

func (tv *txMemoryView) BatchesByReservation(_ context.Context, reservationID ledger.ReservationID) ([]ledger.PointBatch, error) {
	return tv.parent.batchesByReservationLocked(reservationID)
}

func (tv *txMemoryView) UpdateBatchRemaining(_ context.Context, id ledger.BatchID, remaining ledger.Points, status ledger.BatchStatus, expectedVersion int64) error {
	return tv.parent.updateBatchRemainingLocked(id, remaining, status, expectedVersion)
}

func (tv *txMemoryView) ExpiredUnmarked(ctx context.Context, now time.Time) ([]ledger.PointBatch, error) {
	var result []ledger.PointBatch
	for _, b := range tv.parent.batches {
		if b.RemainingAmount > 0 && b.ExpiredAt(now) && b.Status != ledger.StatusExpired {
			result = append(result, *b)
		}
	}
	sortBatches(result)
	return result, nil
}

func (tv *txMemoryView) InsertSpend(_ context.Context, s ledger.SpendTransaction) error {
	return tv.parent.insertSpendLocked(s)
}

func (tv *txMemoryView) SpendsByUser(_ context.Context, userID ledger.UserID) ([]ledger.SpendTransaction, error) {
	return tv.parent.spendsByUserLocked(userID)
}

func (tv *txMemoryView) SpendsByReservation(_ context.Context, reservationID ledger.ReservationID) ([]ledger.SpendTransaction, error) {
	return tv.parent.spendsByReservationLocked(reservationID)
}

func (tv *txMemoryView) InsertLinks(_ context.Context, links []ledger.ConsumptionLink) error {
	return tv.parent.insertLinksLocked(links)
}

func (tv *txMemoryView) LinksBySpend(_ context.Context, spendID ledger.SpendID) ([]ledger.ConsumptionLink, error) {
	return tv.parent.linksBySpendLocked(spendID)
}

func (tv *txMemoryView) InsertAdjustment(_ context.Context, a ledger.AdjustmentTransaction) error {
	return tv.parent.insertAdjustmentLocked(a)
}

func (tv *txMemoryView) AdjustmentsByUser(_ context.Context, userID ledger.UserID) ([]ledger.AdjustmentTransaction, error) {
	return tv.parent.adjustmentsByUserLocked(userID)
}

func (tv *txMemoryView) AdjustmentsByRefund(_ context.Context, reservationID ledger.ReservationID, kind ledger.AdjustmentKind, refundID string) ([]ledger.AdjustmentTransaction, error) {
	return tv.parent.adjustmentsByRefundLocked(reservationID, kind, refundID)
}

func (tv *txMemoryView) UsageHistory(_ context.Context, userID ledger.UserID, limit, offset int) ([]ledger.HistoryEntry, error) {
	return tv.parent.usageHistoryLocked(userID, limit, offset)
}

func (tv *txMemoryView) SaveUser(_ context.Context, u ledger.User) error {
	tv.parent.users[u.ID] = u
	return nil
}

func (tv *txMemoryView) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	u, ok := tv.parent.users[id]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (tv *txMemoryView) ListUsers(ctx context.Context) ([]ledger.User, error) {
	result := make([]ledger.User, 0, len(tv.parent.users))
	for _, u := range tv.parent.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
