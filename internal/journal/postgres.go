package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmarchuk/contentledger/internal/domain"
	"github.com/dmarchuk/contentledger/internal/ledger"
)

// Postgres is the durable journal behind the in-memory ledger: every
// committed content registration, payment and withdrawal lands here, and
// Load rebuilds the ledger snapshot on boot.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(connString string) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool; the caller owns its lifecycle.
func NewPostgresFromPool(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Close() {
	p.pool.Close()
}

// EnsureSchema creates the journal tables when they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS contents (
			id            TEXT PRIMARY KEY,
			creator       TEXT NOT NULL,
			price         BIGINT NOT NULL CHECK (price >= 0),
			registered_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS purchases (
			buyer      TEXT NOT NULL,
			content_id TEXT NOT NULL REFERENCES contents(id),
			amount     BIGINT NOT NULL CHECK (amount >= 0),
			paid_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (buyer, content_id)
		);
		CREATE TABLE IF NOT EXISTS payment_entries (
			id         BIGSERIAL PRIMARY KEY,
			buyer      TEXT NOT NULL,
			content_id TEXT NOT NULL,
			identity   TEXT NOT NULL,
			delta      BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS withdrawals (
			id         BIGSERIAL PRIMARY KEY,
			creator    TEXT NOT NULL,
			amount     BIGINT NOT NULL CHECK (amount > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) RecordContent(ctx context.Context, rec domain.ContentRecord) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO contents (id, creator, price, registered_at) VALUES ($1, $2, $3, $4)",
		rec.ID, rec.Creator, rec.Price, rec.RegisteredAt,
	)
	if err != nil {
		return fmt.Errorf("content insert failed: %w", err)
	}
	return nil
}

// RecordPayment writes the purchase row and its credit legs in a single
// transaction so the journal never shows a half-recorded payment.
func (p *Postgres) RecordPayment(ctx context.Context, purchase domain.PurchaseRecord, receipt domain.PaymentReceipt) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		"INSERT INTO purchases (buyer, content_id, amount, paid_at) VALUES ($1, $2, $3, $4)",
		purchase.Buyer, purchase.ContentID, receipt.Amount, purchase.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("purchase insert failed: %w", err)
	}

	if receipt.Amount > 0 {
		_, err = tx.Exec(ctx,
			"INSERT INTO payment_entries (buyer, content_id, identity, delta) VALUES ($1, $2, $3, $4), ($1, $2, $5, $6)",
			purchase.Buyer, purchase.ContentID,
			receipt.Creator, receipt.CreatorShare,
			receipt.Platform, receipt.PlatformFee,
		)
		if err != nil {
			return fmt.Errorf("payment entries failed: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (p *Postgres) RecordWithdrawal(ctx context.Context, creator string, amount int64, at time.Time) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO withdrawals (creator, amount, created_at) VALUES ($1, $2, $3)",
		creator, amount, at,
	)
	if err != nil {
		return fmt.Errorf("withdrawal insert failed: %w", err)
	}
	return nil
}

// Load rebuilds the boot snapshot: all contents and purchases, plus
// balances derived from the credit legs minus recorded withdrawals.
func (p *Postgres) Load(ctx context.Context) (ledger.Snapshot, error) {
	snap := ledger.Snapshot{Balances: make(map[string]int64)}

	rows, err := p.pool.Query(ctx, "SELECT id, creator, price, registered_at FROM contents")
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load contents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec domain.ContentRecord
		if err := rows.Scan(&rec.ID, &rec.Creator, &rec.Price, &rec.RegisteredAt); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("scan content: %w", err)
		}
		snap.Contents = append(snap.Contents, rec)
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load contents: %w", err)
	}

	rows, err = p.pool.Query(ctx, "SELECT buyer, content_id, paid_at FROM purchases")
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load purchases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rec domain.PurchaseRecord
		if err := rows.Scan(&rec.Buyer, &rec.ContentID, &rec.PaidAt); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("scan purchase: %w", err)
		}
		snap.Purchases = append(snap.Purchases, rec)
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load purchases: %w", err)
	}

	rows, err = p.pool.Query(ctx, `
		SELECT identity, SUM(delta) FROM payment_entries GROUP BY identity
	`)
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load credits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var identity string
		var total int64
		if err := rows.Scan(&identity, &total); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("scan credit: %w", err)
		}
		snap.Balances[identity] += total
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load credits: %w", err)
	}

	rows, err = p.pool.Query(ctx, "SELECT creator, SUM(amount) FROM withdrawals GROUP BY creator")
	if err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load withdrawals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var creator string
		var total int64
		if err := rows.Scan(&creator, &total); err != nil {
			return ledger.Snapshot{}, fmt.Errorf("scan withdrawal: %w", err)
		}
		snap.Balances[creator] -= total
	}
	if err := rows.Err(); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("load withdrawals: %w", err)
	}

	for identity, balance := range snap.Balances {
		if balance == 0 {
			delete(snap.Balances, identity)
		}
	}
	return snap, nil
}
