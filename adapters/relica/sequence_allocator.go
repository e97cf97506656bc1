package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/messagehub"
	"github.com/coregx/messagehub/retry"
	"github.com/jmoiron/sqlx"
)

type sequenceRow struct {
	PartitionKey string `db:"partition_key"`
	Value        int64  `db:"value"`
	Version      int64  `db:"version"`
}

// SequenceAllocator implements messagehub.SequenceAllocator with a counter row
// per partition and conditional updates.
type SequenceAllocator struct {
	db          *sqlx.DB
	tablePrefix string
	strategy    retry.Strategy
}

// NewSequenceAllocator creates a new SequenceAllocator with default table prefix.
func NewSequenceAllocator(sqlDB *sql.DB, driverName string) *SequenceAllocator {
	return NewSequenceAllocatorWithPrefix(sqlDB, driverName, defaultTablePrefix)
}

// NewSequenceAllocatorWithPrefix creates a new SequenceAllocator with custom table prefix.
func NewSequenceAllocatorWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SequenceAllocator {
	return &SequenceAllocator{
		db:          sqlx.NewDb(sqlDB, driverName),
		tablePrefix: prefix,
		strategy:    retry.AllocationStrategy(),
	}
}

func (a *SequenceAllocator) tableName() string {
	return a.tablePrefix + "sequence"
}

// NextSequenceNumber returns the next number of the partition. Write conflicts
// are retried; exhaustion fails with ErrCodeSequenceAllocation.
func (a *SequenceAllocator) NextSequenceNumber(ctx context.Context, partitionKey string) (int64, error) {
	var next int64
	err := a.strategy.Do(ctx, messagehub.IsConflict, func(ctx context.Context, _ int) error {
		return withTx(ctx, a.db, func(tx *sqlx.Tx) error {
			var err error
			next, err = nextSequence(ctx, tx, a.tableName(), partitionKey)
			return err
		})
	})
	if err != nil {
		if retry.IsExhausted(err) {
			return 0, messagehub.NewErrorWithCause(messagehub.ErrCodeSequenceAllocation, "sequence number allocation failed", err)
		}
		return 0, dbError("failed to allocate sequence number", err)
	}
	return next, nil
}

// nextSequence increments the partition counter inside tx. A concurrent
// increment surfaces as a conflict.
func nextSequence(ctx context.Context, tx *sqlx.Tx, table, partitionKey string) (int64, error) {
	var row sequenceRow
	err := tx.GetContext(ctx, &row,
		tx.Rebind("SELECT partition_key, value, version FROM "+table+" WHERE partition_key = ?"), partitionKey)

	if errors.Is(err, sql.ErrNoRows) {
		_, err := exec(ctx, tx, "INSERT INTO "+table+" (partition_key, value, version) VALUES (?, ?, ?)", partitionKey, 1, 1)
		if isUniqueViolation(err) {
			return 0, conflict("sequence %s was created concurrently", partitionKey)
		}
		if err != nil {
			return 0, dbError("failed to create sequence", err)
		}
		return 1, nil
	}
	if err != nil {
		return 0, dbError("failed to load sequence", err)
	}

	affected, err := exec(ctx, tx,
		"UPDATE "+table+" SET value = ?, version = ? WHERE partition_key = ? AND version = ?",
		row.Value+1, row.Version+1, partitionKey, row.Version)
	if err != nil {
		return 0, dbError("failed to increment sequence", err)
	}
	if affected == 0 {
		return 0, conflict("sequence %s was incremented concurrently", partitionKey)
	}
	return row.Value + 1, nil
}
