package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventloom-io/eventloom/internal/model"
)

// PostgresRepository implements EventStore using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
// The pool must be sized to the configured worker concurrency; it is
// shared by every goroutine in the process.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() { r.pool.Close() }

// Ping verifies database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const insertEventSQL = `
	INSERT INTO events (event_id, occurred_at, user_id, event_type, properties)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (event_id) DO NOTHING`

// ApplyEvents writes the batch inside one transaction. The primary key on
// event_id is the idempotency witness: ON CONFLICT DO NOTHING turns a
// concurrent or repeated application of the same identifier into a
// zero-row no-op, so "first successful applier wins" holds regardless of
// which worker or delivery attempt gets there first.
func (r *PostgresRepository) ApplyEvents(ctx context.Context, events []model.Event) (ApplyResult, error) {
	var res ApplyResult
	if len(events) == 0 {
		return res, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		props, err := json.Marshal(e.Properties)
		if err != nil {
			return res, fmt.Errorf("marshal properties for %s: %w", e.EventID, err)
		}
		batch.Queue(insertEventSQL, e.EventID, e.OccurredAt, e.UserID, e.EventType, props)
	}

	br := tx.SendBatch(ctx, batch)
	for range events {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return ApplyResult{}, fmt.Errorf("insert event: %w", err)
		}
		if tag.RowsAffected() == 0 {
			res.Duplicates++
		} else {
			res.Applied++
		}
	}
	if err := br.Close(); err != nil {
		return ApplyResult{}, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return ApplyResult{}, fmt.Errorf("commit transaction: %w", err)
	}
	return res, nil
}

// DailyActiveUsers returns the count of unique users per day for the
// inclusive date range.
func (r *PostgresRepository) DailyActiveUsers(ctx context.Context, from, to time.Time) ([]model.DAURow, error) {
	query := `
		SELECT occurred_at::date AS day, COUNT(DISTINCT user_id) AS unique_users
		FROM events
		WHERE occurred_at::date >= $1 AND occurred_at::date <= $2
		GROUP BY day
		ORDER BY day`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query dau: %w", err)
	}
	defer rows.Close()

	var out []model.DAURow
	for rows.Next() {
		var day time.Time
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("scan dau row: %w", err)
		}
		out = append(out, model.DAURow{Date: day.Format("2006-01-02"), UniqueUsers: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dau rows: %w", err)
	}
	return out, nil
}

// TopEvents returns the most frequent event types in the inclusive date
// range, sorted by count descending.
func (r *PostgresRepository) TopEvents(ctx context.Context, from, to time.Time, limit int) ([]model.TopEventRow, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT event_type, COUNT(*) AS count
		FROM events
		WHERE occurred_at::date >= $1 AND occurred_at::date <= $2
		GROUP BY event_type
		ORDER BY count DESC
		LIMIT $3`

	rows, err := r.pool.Query(ctx, query, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("query top events: %w", err)
	}
	defer rows.Close()

	var out []model.TopEventRow
	for rows.Next() {
		var row model.TopEventRow
		if err := rows.Scan(&row.EventType, &row.Count); err != nil {
			return nil, fmt.Errorf("scan top events row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top events rows: %w", err)
	}
	return out, nil
}

// Retention computes what share of the starting cohort returns in each of
// the following windows. Window 0 defines the cohort; percentages are
// reported for windows 1..windows.
func (r *PostgresRepository) Retention(ctx context.Context, startDate time.Time, windows int, windowType string) (*model.RetentionCohort, error) {
	var delta time.Duration
	switch windowType {
	case "day":
		delta = 24 * time.Hour
	case "week":
		delta = 7 * 24 * time.Hour
	default:
		return nil, ErrUnknownWindowType
	}

	cohortStart := time.Date(startDate.Year(), startDate.Month(), startDate.Day(), 0, 0, 0, 0, time.UTC)
	cohortEnd := cohortStart.Add(delta)

	cohort := &model.RetentionCohort{
		CohortDate:       cohortStart.Format("2006-01-02"),
		RetentionWindows: []float64{},
	}

	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM events WHERE occurred_at >= $1 AND occurred_at < $2`,
		cohortStart, cohortEnd)
	if err != nil {
		return nil, fmt.Errorf("query cohort users: %w", err)
	}
	var cohortUsers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan cohort user: %w", err)
		}
		cohortUsers = append(cohortUsers, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cohort users: %w", err)
	}

	cohort.UsersCount = int64(len(cohortUsers))
	if cohort.UsersCount == 0 {
		return cohort, nil
	}

	for w := 1; w <= windows; w++ {
		windowStart := cohortStart.Add(delta * time.Duration(w))
		windowEnd := windowStart.Add(delta)

		var returned int64
		err := r.pool.QueryRow(ctx,
			`SELECT COUNT(DISTINCT user_id) FROM events
			 WHERE user_id = ANY($1) AND occurred_at >= $2 AND occurred_at < $3`,
			cohortUsers, windowStart, windowEnd).Scan(&returned)
		if err != nil {
			return nil, fmt.Errorf("query retention window %d: %w", w, err)
		}

		rate := float64(returned) / float64(cohort.UsersCount) * 100
		cohort.RetentionWindows = append(cohort.RetentionWindows, math.Round(rate*100)/100)
	}

	return cohort, nil
}
