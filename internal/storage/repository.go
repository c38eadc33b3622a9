package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"price-oracle/internal/ledger"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

// Positions are main chain indexes. Units still waiting for one are not at or
// below any cursor and are skipped. A stable unit without an index is a broken
// ledger and sorts first so the caller sees it.
const (
	lastValueOfSeriesSQL = `SELECT
        df.value,
        u.main_chain_index
    FROM data_feeds df
    JOIN unit_authors ua ON ua.unit = df.unit
    JOIN units u ON u.unit = df.unit
    WHERE ua.address = $1
      AND df.feed_name = $2
      AND (u.main_chain_index <= $3
        OR (u.is_stable = 1 AND u.main_chain_index IS NULL))
    ORDER BY u.main_chain_index DESC NULLS FIRST
    LIMIT 1;`

	capacitySnapshotSQL = `SELECT
        (SELECT COUNT(*) FROM outputs o JOIN units u ON u.unit = o.unit
            WHERE o.address = $1 AND u.is_stable = 1 AND o.amount >= $2
              AND o.asset IS NULL AND o.is_spent = 0),
        (SELECT COALESCE(SUM(o.amount), 0) FROM outputs o JOIN units u ON u.unit = o.unit
            WHERE o.address = $1 AND u.is_stable = 1 AND o.amount < $2
              AND o.asset IS NULL AND o.is_spent = 0),
        (SELECT COALESCE(SUM(amount), 0) FROM headers_commission_outputs
            WHERE address = $1 AND is_spent = 0),
        (SELECT COALESCE(SUM(amount), 0) FROM witnessing_outputs
            WHERE address = $1 AND is_spent = 0);`

	largestSpendableOutputSQL = `SELECT o.amount
    FROM outputs o
    JOIN units u ON u.unit = o.unit
    WHERE o.address = $1
      AND u.is_stable = 1
      AND o.amount >= $2
      AND o.asset IS NULL
      AND o.is_spent = 0
    ORDER BY o.amount DESC
    LIMIT 1;`

	hasSpendableOutputsSQL = `SELECT EXISTS (
        SELECT 1 FROM outputs WHERE address = $1 AND is_spent = 0
    );`
)

// querier is the subset of pgxpool.Pool the store reads through.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads published feeds and spendable outputs from the wallet database.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	s := &Store{pool: pool}
	if pool != nil {
		s.db = pool
	}
	return s
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getDB() (querier, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// LastValueOfSeries implements ledger.SeriesReader.
func (s *Store) LastValueOfSeries(ctx context.Context, identity, series string, maxPosition int64) (ledger.SeriesValue, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return ledger.SeriesValue{}, false, err
	}

	var row feedRow
	scanErr := db.QueryRow(ctx, lastValueOfSeriesSQL, identity, series, maxPosition).Scan(&row.Value, &row.MainChainIndex)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return ledger.SeriesValue{}, false, nil
	}
	if scanErr != nil {
		return ledger.SeriesValue{}, false, fmt.Errorf("last value of %s: %w", series, scanErr)
	}

	value := ledger.SeriesValue{Value: row.Value}
	if row.MainChainIndex.Valid {
		pos := row.MainChainIndex.Int64
		value.Position = &pos
	}
	return value, true, nil
}

// CapacitySnapshot implements ledger.OutputReader.
func (s *Store) CapacitySnapshot(ctx context.Context, identity string, minAmount int64) (ledger.CapacitySnapshot, error) {
	db, err := s.getDB()
	if err != nil {
		return ledger.CapacitySnapshot{}, err
	}

	var row capacityRow
	if scanErr := db.QueryRow(ctx, capacitySnapshotSQL, identity, minAmount).Scan(
		&row.LargeOutputs,
		&row.SmallOutputsTotal,
		&row.CommissionTotal,
		&row.WitnessingTotal,
	); scanErr != nil {
		return ledger.CapacitySnapshot{}, fmt.Errorf("capacity snapshot: %w", scanErr)
	}

	return ledger.CapacitySnapshot{
		LargeOutputs:      int(row.LargeOutputs),
		SmallOutputsTotal: row.SmallOutputsTotal,
		FeeIncomeTotal:    row.CommissionTotal + row.WitnessingTotal,
	}, nil
}

// LargestSpendableOutput implements ledger.OutputReader.
func (s *Store) LargestSpendableOutput(ctx context.Context, identity string, minAmount int64) (int64, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, false, err
	}

	var amount int64
	scanErr := db.QueryRow(ctx, largestSpendableOutputSQL, identity, minAmount).Scan(&amount)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if scanErr != nil {
		return 0, false, fmt.Errorf("largest spendable output: %w", scanErr)
	}
	return amount, true, nil
}

// HasSpendableOutputs implements ledger.OutputReader.
func (s *Store) HasSpendableOutputs(ctx context.Context, identity string) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	var exists bool
	if scanErr := db.QueryRow(ctx, hasSpendableOutputsSQL, identity).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("has spendable outputs: %w", scanErr)
	}
	return exists, nil
}

var _ ledger.Reader = (*Store)(nil)
