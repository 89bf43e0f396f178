/*
Package sqlite provides a SQLite-backed implementation of the ledger
storage interfaces.

PURPOSE:
  Implements ledger.Store and ledger.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect
  differences.

KEY TABLES:
  users:                         Account records
  point_batches:                 One row per earn/restoration batch. The only
                                 mutable columns are remaining_amount, status,
                                 and version.
  point_spend_transactions:      Append-only redemption records
  point_consumption_links:       Append-only spend-to-batch audit rows
  point_adjustment_transactions: Append-only refund reversal records

OPTIMISTIC LOCKING:
  UpdateBatchRemaining guards every write with `WHERE version = ?`. Zero
  rows affected on an existing batch means another writer got there first;
  that surfaces as ledger.ErrConcurrentModification and the engine retries
  its read-select-write cycle.

INDEXES:
  - idx_batches_user_fifo: FIFO selection order (hot path)
  - idx_batches_reservation: Reversal lookup
  - idx_spends_reservation, idx_adjustments_refund: Refund processing
  - idx_spends_user_created, idx_adjustments_user_created: Usage history

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  the single writer.

USAGE:
  store, err := sqlite.New("./data/points.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  svc := ledger.NewService(store, ledger.DefaultConfig())

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/points-ledger/ledger"
)

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS point_batches (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		original_amount INTEGER NOT NULL CHECK (original_amount > 0),
		remaining_amount INTEGER NOT NULL CHECK (remaining_amount >= 0),
		status TEXT NOT NULL,
		source_kind TEXT NOT NULL,
		source_reservation_id TEXT,
		available_from TEXT NOT NULL,
		expires_at TEXT,
		created_at TEXT NOT NULL,
		description TEXT,
		metadata_json TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_batches_user_fifo
		ON point_batches(user_id, available_from, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_batches_reservation
		ON point_batches(source_reservation_id)
		WHERE source_reservation_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_batches_expiry
		ON point_batches(expires_at)
		WHERE expires_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS point_spend_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		amount INTEGER NOT NULL CHECK (amount < 0),
		reservation_id TEXT,
		description TEXT,
		metadata_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spends_user_created
		ON point_spend_transactions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_spends_reservation
		ON point_spend_transactions(reservation_id)
		WHERE reservation_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS point_consumption_links (
		spend_transaction_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		amount_consumed INTEGER NOT NULL CHECK (amount_consumed > 0),
		PRIMARY KEY (spend_transaction_id, batch_id)
	);

	CREATE INDEX IF NOT EXISTS idx_links_batch
		ON point_consumption_links(batch_id);

	CREATE TABLE IF NOT EXISTS point_adjustment_transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		reservation_id TEXT NOT NULL,
		refund_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_refund
		ON point_adjustment_transactions(reservation_id, kind, refund_id);
	CREATE INDEX IF NOT EXISTS idx_adjustments_user_created
		ON point_adjustment_transactions(user_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// queryer is the common surface of *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// POINT BATCHES
// =============================================================================

const batchColumns = `id, user_id, original_amount, remaining_amount, status, source_kind,
	source_reservation_id, available_from, expires_at, created_at, description, metadata_json, version`

func (s *Store) InsertBatch(ctx context.Context, b ledger.PointBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertBatch(ctx, s.db, b)
}

func insertBatch(ctx context.Context, db queryer, b ledger.PointBatch) error {
	metadataJSON, _ := json.Marshal(b.Metadata)
	version := b.Version
	if version == 0 {
		version = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO point_batches
		(`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID,
		b.UserID,
		int64(b.OriginalAmount),
		int64(b.RemainingAmount),
		b.Status,
		b.SourceKind,
		nullString(string(b.SourceReservationID)),
		b.AvailableFrom.UTC().Format(time.RFC3339Nano),
		nullTime(b.ExpiresAt),
		b.CreatedAt.UTC().Format(time.RFC3339Nano),
		b.Description,
		string(metadataJSON),
		version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.PointBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBatch(ctx, s.db, id)
}

func getBatch(ctx context.Context, db queryer, id ledger.BatchID) (*ledger.PointBatch, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM point_batches WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches, err := scanBatches(rows)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, ledger.ErrBatchNotFound
	}
	return &batches[0], nil
}

func (s *Store) BatchesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.PointBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return batchesByUser(ctx, s.db, userID)
}

func batchesByUser(ctx context.Context, db queryer, userID ledger.UserID) ([]ledger.PointBatch, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM point_batches
		WHERE user_id = ?
		ORDER BY available_from ASC, created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (s *Store) BatchesByReservation(ctx context.Context, reservationID ledger.ReservationID) ([]ledger.PointBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return batchesByReservation(ctx, s.db, reservationID)
}

func batchesByReservation(ctx context.Context, db queryer, reservationID ledger.ReservationID) ([]ledger.PointBatch, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM point_batches
		WHERE source_reservation_id = ?
		ORDER BY available_from ASC, created_at ASC, id ASC`, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (s *Store) UpdateBatchRemaining(ctx context.Context, id ledger.BatchID, remaining ledger.Points, status ledger.BatchStatus, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateBatchRemaining(ctx, s.db, id, remaining, status, expectedVersion)
}

func updateBatchRemaining(ctx context.Context, db queryer, id ledger.BatchID, remaining ledger.Points, status ledger.BatchStatus, expectedVersion int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE point_batches
		SET remaining_amount = ?, status = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		int64(remaining), status, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Distinguish a missing batch from a version conflict.
		var count int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM point_batches WHERE id = ?", id).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return ledger.ErrBatchNotFound
		}
		return ledger.ErrConcurrentModification
	}
	return nil
}

func (s *Store) ExpiredUnmarked(ctx context.Context, now time.Time) ([]ledger.PointBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return expiredUnmarked(ctx, s.db, now)
}

func expiredUnmarked(ctx context.Context, db queryer, now time.Time) ([]ledger.PointBatch, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+batchColumns+`
		FROM point_batches
		WHERE remaining_amount > 0
		  AND expires_at IS NOT NULL AND expires_at <= ?
		  AND status != ?
		ORDER BY expires_at ASC`,
		now.UTC().Format(time.RFC3339Nano), ledger.StatusExpired)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func scanBatches(rows *sql.Rows) ([]ledger.PointBatch, error) {
	var batches []ledger.PointBatch
	for rows.Next() {
		var (
			b             ledger.PointBatch
			original      int64
			remaining     int64
			reservationID sql.NullString
			availableFrom string
			expiresAt     sql.NullString
			createdAt     string
			description   sql.NullString
			metadataJSON  sql.NullString
		)
		err := rows.Scan(&b.ID, &b.UserID, &original, &remaining, &b.Status, &b.SourceKind,
			&reservationID, &availableFrom, &expiresAt, &createdAt, &description, &metadataJSON, &b.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}

		b.OriginalAmount = ledger.Points(original)
		b.RemainingAmount = ledger.Points(remaining)
		b.SourceReservationID = ledger.ReservationID(reservationID.String)
		b.AvailableFrom, _ = time.Parse(time.RFC3339Nano, availableFrom)
		if expiresAt.Valid {
			b.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt.String)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		b.Description = description.String
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &b.Metadata)
		}

		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// =============================================================================
// SPEND TRANSACTIONS (append-only)
// =============================================================================

const spendColumns = `id, user_id, amount, reservation_id, description, metadata_json, created_at`

func (s *Store) InsertSpend(ctx context.Context, spend ledger.SpendTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertSpend(ctx, s.db, spend)
}

func insertSpend(ctx context.Context, db queryer, spend ledger.SpendTransaction) error {
	metadataJSON, _ := json.Marshal(spend.Metadata)

	_, err := db.ExecContext(ctx, `
		INSERT INTO point_spend_transactions (`+spendColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		spend.ID,
		spend.UserID,
		int64(spend.Amount),
		nullString(string(spend.ReservationID)),
		spend.Description,
		string(metadataJSON),
		spend.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert spend: %w", err)
	}
	return nil
}

func (s *Store) SpendsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.SpendTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spendsByUser(ctx, s.db, userID)
}

func spendsByUser(ctx context.Context, db queryer, userID ledger.UserID) ([]ledger.SpendTransaction, error) {
	return querySpends(ctx, db, `
		SELECT `+spendColumns+` FROM point_spend_transactions
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (s *Store) SpendsByReservation(ctx context.Context, reservationID ledger.ReservationID) ([]ledger.SpendTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return spendsByReservation(ctx, s.db, reservationID)
}

func spendsByReservation(ctx context.Context, db queryer, reservationID ledger.ReservationID) ([]ledger.SpendTransaction, error) {
	return querySpends(ctx, db, `
		SELECT `+spendColumns+` FROM point_spend_transactions
		WHERE reservation_id = ? ORDER BY created_at ASC, id ASC`, reservationID)
}

func querySpends(ctx context.Context, db queryer, query string, args ...any) ([]ledger.SpendTransaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spends []ledger.SpendTransaction
	for rows.Next() {
		var (
			sp            ledger.SpendTransaction
			amount        int64
			reservationID sql.NullString
			description   sql.NullString
			metadataJSON  sql.NullString
			createdAt     string
		)
		if err := rows.Scan(&sp.ID, &sp.UserID, &amount, &reservationID, &description, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan spend: %w", err)
		}
		sp.Amount = ledger.Points(amount)
		sp.ReservationID = ledger.ReservationID(reservationID.String)
		sp.Description = description.String
		sp.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			json.Unmarshal([]byte(metadataJSON.String), &sp.Metadata)
		}
		spends = append(spends, sp)
	}
	return spends, rows.Err()
}

// =============================================================================
// CONSUMPTION LINKS (append-only)
// =============================================================================

func (s *Store) InsertLinks(ctx context.Context, links []ledger.ConsumptionLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertLinks(ctx, s.db, links)
}

func insertLinks(ctx context.Context, db queryer, links []ledger.ConsumptionLink) error {
	for _, l := range links {
		_, err := db.ExecContext(ctx, `
			INSERT INTO point_consumption_links (spend_transaction_id, batch_id, amount_consumed)
			VALUES (?, ?, ?)`,
			l.SpendTransactionID, l.BatchID, int64(l.AmountConsumed))
		if err != nil {
			return fmt.Errorf("failed to insert consumption link: %w", err)
		}
	}
	return nil
}

func (s *Store) LinksBySpend(ctx context.Context, spendID ledger.SpendID) ([]ledger.ConsumptionLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linksBySpend(ctx, s.db, spendID)
}

func linksBySpend(ctx context.Context, db queryer, spendID ledger.SpendID) ([]ledger.ConsumptionLink, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT spend_transaction_id, batch_id, amount_consumed
		FROM point_consumption_links
		WHERE spend_transaction_id = ?
		ORDER BY batch_id ASC`, spendID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []ledger.ConsumptionLink
	for rows.Next() {
		var (
			l      ledger.ConsumptionLink
			amount int64
		)
		if err := rows.Scan(&l.SpendTransactionID, &l.BatchID, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		l.AmountConsumed = ledger.Points(amount)
		links = append(links, l)
	}
	return links, rows.Err()
}

// =============================================================================
// ADJUSTMENT TRANSACTIONS (append-only)
// =============================================================================

const adjustmentColumns = `id, user_id, kind, amount, reservation_id, refund_id, created_at`

func (s *Store) InsertAdjustment(ctx context.Context, a ledger.AdjustmentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertAdjustment(ctx, s.db, a)
}

func insertAdjustment(ctx context.Context, db queryer, a ledger.AdjustmentTransaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO point_adjustment_transactions (`+adjustmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		a.Kind,
		int64(a.Amount),
		a.ReservationID,
		a.RefundID,
		a.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert adjustment: %w", err)
	}
	return nil
}

func (s *Store) AdjustmentsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.AdjustmentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return adjustmentsByUser(ctx, s.db, userID)
}

func adjustmentsByUser(ctx context.Context, db queryer, userID ledger.UserID) ([]ledger.AdjustmentTransaction, error) {
	return queryAdjustments(ctx, db, `
		SELECT `+adjustmentColumns+` FROM point_adjustment_transactions
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
}

func (s *Store) AdjustmentsByRefund(ctx context.Context, reservationID ledger.ReservationID, kind ledger.AdjustmentKind, refundID string) ([]ledger.AdjustmentTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return adjustmentsByRefund(ctx, s.db, reservationID, kind, refundID)
}

func adjustmentsByRefund(ctx context.Context, db queryer, reservationID ledger.ReservationID, kind ledger.AdjustmentKind, refundID string) ([]ledger.AdjustmentTransaction, error) {
	return queryAdjustments(ctx, db, `
		SELECT `+adjustmentColumns+` FROM point_adjustment_transactions
		WHERE reservation_id = ? AND kind = ? AND refund_id = ?
		ORDER BY created_at ASC, id ASC`, reservationID, kind, refundID)
}

func queryAdjustments(ctx context.Context, db queryer, query string, args ...any) ([]ledger.AdjustmentTransaction, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []ledger.AdjustmentTransaction
	for rows.Next() {
		var (
			a         ledger.AdjustmentTransaction
			amount    int64
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &amount, &a.ReservationID, &a.RefundID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}
		a.Amount = ledger.Points(amount)
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

// =============================================================================
// USAGE HISTORY
// =============================================================================

func (s *Store) UsageHistory(ctx context.Context, userID ledger.UserID, limit, offset int) ([]ledger.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return usageHistory(ctx, s.db, userID, limit, offset)
}

func usageHistory(ctx context.Context, db queryer, userID ledger.UserID, limit, offset int) ([]ledger.HistoryEntry, error) {
	// Spends and adjustments interleaved, newest first. rowid within each
	// table breaks created_at ties in insertion order.
	rows, err := db.QueryContext(ctx, `
		SELECT entry_kind, id, amount, reservation_id, refund_id, description, created_at FROM (
			SELECT 'spend' AS entry_kind, id, amount,
			       COALESCE(reservation_id, '') AS reservation_id,
			       '' AS refund_id,
			       COALESCE(description, '') AS description,
			       created_at, rowid AS seq
			FROM point_spend_transactions
			WHERE user_id = ?
			UNION ALL
			SELECT 'adjustment' AS entry_kind, id, amount,
			       reservation_id,
			       refund_id,
			       kind AS description,
			       created_at, rowid AS seq
			FROM point_adjustment_transactions
			WHERE user_id = ?
		)
		ORDER BY created_at DESC, seq DESC
		LIMIT ? OFFSET ?`,
		userID, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.HistoryEntry
	for rows.Next() {
		var (
			e         ledger.HistoryEntry
			kind      string
			amount    int64
			resID     string
			createdAt string
		)
		if err := rows.Scan(&kind, &e.ID, &amount, &resID, &e.RefundID, &e.Description, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.Kind = ledger.HistoryKind(kind)
		e.Amount = ledger.Points(amount)
		e.ReservationID = ledger.ReservationID(resID)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, db queryer, u ledger.User) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		u.ID, u.Name, u.Email, u.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, db queryer, id ledger.UserID) (*ledger.User, error) {
	var (
		u         ledger.User
		email     sql.NullString
		createdAt string
	)
	err := db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Name, &email, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

func listUsers(ctx context.Context, db queryer) ([]ledger.User, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		var (
			u         ledger.User
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.Name, &email, &createdAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		u.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn
// rolls back every write made through the transactional view.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore runs every Store operation against the open transaction.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) InsertBatch(ctx context.Context, b ledger.PointBatch) error {
	return insertBatch(ctx, ts.tx, b)
}

func (ts *txStore) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.PointBatch, error) {
	return getBatch(ctx, ts.tx, id)
}

func (ts *txStore) BatchesByUser(ctx context.Context, userID ledger.UserID) ([]ledger.PointBatch, error) {
	return batchesByUser(ctx, ts.tx, userID)
}

func (ts *txStore) BatchesByReservation(ctx context.Context, reservationID ledger.ReservationID) ([]ledger.PointBatch, error) {
	return batchesByReservation(ctx, ts.tx, reservationID)
}

func (ts *txStore) UpdateBatchRemaining(ctx context.Context, id ledger.BatchID, remaining ledger.Points, status ledger.BatchStatus, expectedVersion int64) error {
	return updateBatchRemaining(ctx, ts.tx, id, remaining, status, expectedVersion)
}

func (ts *txStore) ExpiredUnmarked(ctx context.Context, now time.Time) ([]ledger.PointBatch, error) {
	return expiredUnmarked(ctx, ts.tx, now)
}

func (ts *txStore) InsertSpend(ctx context.Context, spend ledger.SpendTransaction) error {
	return insertSpend(ctx, ts.tx, spend)
}

func (ts *txStore) SpendsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.SpendTransaction, error) {
	return spendsByUser(ctx, ts.tx, userID)
}

func (ts *txStore) SpendsByReservation(ctx context.Context, reservationID ledger.ReservationID) ([]ledger.SpendTransaction, error) {
	return spendsByReservation(ctx, ts.tx, reservationID)
}

func (ts *txStore) InsertLinks(ctx context.Context, links []ledger.ConsumptionLink) error {
	return insertLinks(ctx, ts.tx, links)
}

func (ts *txStore) LinksBySpend(ctx context.Context, spendID ledger.SpendID) ([]ledger.ConsumptionLink, error) {
	return linksBySpend(ctx, ts.tx, spendID)
}

func (ts *txStore) InsertAdjustment(ctx context.Context, a ledger.AdjustmentTransaction) error {
	return insertAdjustment(ctx, ts.tx, a)
}

func (ts *txStore) AdjustmentsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.AdjustmentTransaction, error) {
	return adjustmentsByUser(ctx, ts.tx, userID)
}

func (ts *txStore) AdjustmentsByRefund(ctx context.Context, reservationID ledger.ReservationID, kind ledger.AdjustmentKind, refundID string) ([]ledger.AdjustmentTransaction, error) {
	return adjustmentsByRefund(ctx, ts.tx, reservationID, kind, refundID)
}

func (ts *txStore) UsageHistory(ctx context.Context, userID ledger.UserID, limit, offset int) ([]ledger.HistoryEntry, error) {
	return usageHistory(ctx, ts.tx, userID, limit, offset)
}

func (ts *txStore) SaveUser(ctx context.Context, u ledger.User) error {
	return saveUser(ctx, ts.tx, u)
}

func (ts *txStore) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return listUsers(ctx, ts.tx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"point_consumption_links",
		"point_adjustment_transactions",
		"point_spend_transactions",
		"point_batches",
		"users",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}
