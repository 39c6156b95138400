/**
 * @description
 * PostgreSQL implementation of the transfer ledger. All transfers live in a
 * single `transfers` table; ids are unique across kinds.
 *
 * @notes
 * - Every column is read back as text and decoded through the row codec, so a
 *   corrupt row is rejected at this boundary instead of leaking into workers.
 * - Claims for a kind are serialized with a transaction-scoped advisory lock.
 *   The partial unique index on Submitted rows backs that up.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/transfa/ledger-service/internal/domain"
)

const (
	uniqueViolation = "23505"

	constraintPrimaryKey  = "transfers_pkey"
	constraintInFlight    = "transfers_one_in_flight_idx"
	constraintExternalRef = "transfers_external_ref_idx"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS transfers (
		id VARCHAR(64) PRIMARY KEY,
		seq BIGSERIAL NOT NULL,
		kind TEXT NOT NULL,
		timestamp BIGINT NOT NULL CHECK (timestamp >= 0),
		counterpartyAddress VARCHAR(127) NOT NULL,
		externalTransferRef TEXT NOT NULL,
		externalUserRef TEXT NOT NULL,
		amount NUMERIC(78, 0) NOT NULL CHECK (amount >= 0),
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		claimDeadline BIGINT,
		updatedAt TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS transfers_queue_idx ON transfers (kind, state, timestamp, seq)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transfers_one_in_flight_idx ON transfers (kind) WHERE state = 'Submitted'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS transfers_external_ref_idx ON transfers (kind, externalTransferRef) WHERE externalTransferRef <> ''`,
}

const transferColumns = `id, kind, timestamp::text AS timestamp, counterpartyAddress, externalTransferRef,
	externalUserRef, amount::text AS amount, state, attempts::text AS attempts,
	COALESCE(claimDeadline::text, '') AS claimDeadline`

// PostgresRepository is the durable Repository backed by PostgreSQL.
type PostgresRepository struct {
	db   *pgxpool.Pool
	opts Options
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool, opts Options) *PostgresRepository {
	return &PostgresRepository{db: db, opts: opts.withDefaults()}
}

// Initialize creates the table and indexes if they do not exist yet.
func (r *PostgresRepository) Initialize(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return wrapDBError("initialize schema", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Insert(ctx context.Context, t domain.Transfer) error {
	row := EncodeTransfer(t)
	if _, err := DecodeTransfer(row); err != nil {
		return err
	}
	if err := checkNew(t); err != nil {
		return err
	}

	// attempts and claimDeadline keep their column defaults.
	query := `
		INSERT INTO transfers (id, kind, timestamp, counterpartyAddress, externalTransferRef,
			externalUserRef, amount, state)
		VALUES ($1, $2, $3::bigint, $4, $5, $6, $7::numeric, $8)`
	_, err := r.db.Exec(ctx, query,
		t.ID, string(t.Kind), t.Timestamp, t.CounterpartyAddress, t.ExternalTransferRef,
		t.ExternalUserRef, t.Amount.String(), string(t.State),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case constraintPrimaryKey:
				return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
			case constraintExternalRef:
				return fmt.Errorf("%w: %s %s", ErrDuplicateExternalRef, t.Kind.Slug(), t.ExternalTransferRef)
			}
		}
		return wrapDBError("insert transfer", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id = $1`
	return r.queryOne(ctx, r.db, query, fmt.Errorf("%w: %s", ErrNotFound, id), id)
}

func (r *PostgresRepository) FindByExternalRef(ctx context.Context, kind domain.Kind, ref string) (*domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE kind = $1 AND externalTransferRef = $2 ORDER BY seq LIMIT 1`
	return r.queryOne(ctx, r.db, query, fmt.Errorf("%w: %s %s", ErrNotFound, kind.Slug(), ref), string(kind), ref)
}

// UpdateState advances a transfer along its state machine inside a row-locking
// transaction. A write to the current state returns the row unchanged.
// A move to Submitted takes the kind lock before the row lock, in the same
// order as ClaimNext.
func (r *PostgresRepository) UpdateState(ctx context.Context, id string, target domain.State) (*domain.Transfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapDBError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if target == domain.StateSubmitted {
		var kind string
		err := tx.QueryRow(ctx, `SELECT kind FROM transfers WHERE id = $1`, id).Scan(&kind)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return nil, wrapDBError("read transfer kind", err)
		}
		if err := lockKind(ctx, tx, domain.Kind(kind)); err != nil {
			return nil, err
		}
	}

	current, err := r.queryOne(ctx, tx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`,
		fmt.Errorf("%w: %s", ErrNotFound, id), id)
	if err != nil {
		return nil, err
	}

	noop, err := domain.CheckTransition(current.Kind, current.State, target)
	if err != nil {
		return nil, err
	}
	if noop {
		return current, tx.Commit(ctx)
	}

	var deadline *int64
	if target == domain.StateSubmitted {
		d := r.opts.deadline()
		deadline = &d
	}

	updated, err := r.queryOne(ctx, tx,
		`UPDATE transfers SET state = $2, claimDeadline = $3, updatedAt = NOW()
		 WHERE id = $1 RETURNING `+transferColumns,
		fmt.Errorf("%w: %s", ErrNotFound, id), id, string(target), deadline)
	if err != nil {
		if isConstraint(err, constraintInFlight) {
			return nil, ErrInFlightConflict
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapDBError("commit state update", err)
	}
	return updated, nil
}

func (r *PostgresRepository) QueryQueued(ctx context.Context, kind domain.Kind) ([]domain.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers
		WHERE kind = $1 AND state IN ($2, $3)
		ORDER BY timestamp ASC, seq ASC`
	return r.queryMany(ctx, r.db, query, string(kind), string(domain.StateRequested), string(domain.StateSubmitted))
}

// ClaimNext moves the oldest Requested transfer of the kind to Submitted,
// unless one is already in flight. Returns nil when there is nothing to claim.
func (r *PostgresRepository) ClaimNext(ctx context.Context, kind domain.Kind) (*domain.Transfer, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, wrapDBError("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := lockKind(ctx, tx, kind); err != nil {
		return nil, err
	}

	query := `
		UPDATE transfers SET state = $3, claimDeadline = $4, updatedAt = NOW()
		WHERE id = (
			SELECT id FROM transfers
			WHERE kind = $1 AND state = $2
			  AND NOT EXISTS (SELECT 1 FROM transfers WHERE kind = $1 AND state = $3)
			ORDER BY timestamp ASC, seq ASC
			LIMIT 1
			FOR UPDATE
		)
		RETURNING ` + transferColumns
	claimed, err := r.queryMany(ctx, tx, query,
		string(kind), string(domain.StateRequested), string(domain.StateSubmitted), r.opts.deadline())
	if err != nil {
		if isConstraint(err, constraintInFlight) {
			return nil, nil
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapDBError("commit claim", err)
	}
	if len(claimed) == 0 {
		return nil, nil
	}
	return &claimed[0], nil
}

// ReleaseClaim hands a Submitted transfer back to the queue and counts the attempt.
func (r *PostgresRepository) ReleaseClaim(ctx context.Context, id string) (*domain.Transfer, error) {
	query := `
		UPDATE transfers SET state = $2, attempts = attempts + 1, claimDeadline = NULL, updatedAt = NOW()
		WHERE id = $1 AND state = $3
		RETURNING ` + transferColumns
	released, err := r.queryMany(ctx, r.db, query, id, string(domain.StateRequested), string(domain.StateSubmitted))
	if err != nil {
		return nil, err
	}
	if len(released) == 1 {
		return &released[0], nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: release from %s", domain.ErrIllegalTransition, current.State)
}

// ReleaseExpiredClaims releases every Submitted transfer of the kind whose
// claim deadline has passed and returns their ids.
func (r *PostgresRepository) ReleaseExpiredClaims(ctx context.Context, kind domain.Kind) ([]string, error) {
	query := `
		UPDATE transfers SET state = $2, attempts = attempts + 1, claimDeadline = NULL, updatedAt = NOW()
		WHERE kind = $1 AND state = $3 AND claimDeadline IS NOT NULL AND claimDeadline <= $4
		RETURNING id`
	rows, err := r.db.Query(ctx, query,
		string(kind), string(domain.StateRequested), string(domain.StateSubmitted), r.opts.Now().UnixMilli())
	if err != nil {
		return nil, wrapDBError("release expired claims", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrapDBError("release expired claims", err)
	}
	return ids, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PostgresRepository) queryOne(ctx context.Context, q querier, query string, notFound error, args ...any) (*domain.Transfer, error) {
	transfers, err := r.queryMany(ctx, q, query, args...)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 {
		return nil, notFound
	}
	return &transfers[0], nil
}

func (r *PostgresRepository) queryMany(ctx context.Context, q querier, query string, args ...any) ([]domain.Transfer, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("query transfers", err)
	}
	textRows, err := pgx.CollectRows(rows, collectTextRow)
	if err != nil {
		return nil, wrapDBError("scan transfers", err)
	}
	return DecodeTransfers(textRows)
}

// collectTextRow turns a result row whose columns were all cast to text into a Row.
func collectTextRow(row pgx.CollectableRow) (Row, error) {
	values, err := row.Values()
	if err != nil {
		return nil, err
	}
	out := make(Row, len(values))
	for i, fd := range row.FieldDescriptions() {
		switch v := values[i].(type) {
		case nil:
			continue
		case string:
			out[fd.Name] = v
		case int64:
			out[fd.Name] = strconv.FormatInt(v, 10)
		case int32:
			out[fd.Name] = strconv.FormatInt(int64(v), 10)
		default:
			out[fd.Name] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func lockKind(ctx context.Context, tx pgx.Tx, kind domain.Kind) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "transfers:"+string(kind)); err != nil {
		return wrapDBError("lock "+kind.Slug()+" queue", err)
	}
	return nil
}

func isConstraint(err error, name string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == name
}

// wrapDBError marks failures that never reached the server (connection refused,
// pool closed, timeouts) as environment failures.
func wrapDBError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrEnvironmentFailure, err)
}
