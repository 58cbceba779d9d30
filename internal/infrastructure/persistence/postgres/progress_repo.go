package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository stores one progression document per user.
// Saves are monotonic by revision: an older revision never overwrites a newer one.
type ProgressRepository struct {
	conn    *Connection
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

var _ ranks.SnapshotStore = (*ProgressRepository)(nil)

// NewProgressRepository creates a repository on top of conn.
// Document reads and writes go through a database circuit breaker.
func NewProgressRepository(conn *Connection, onBreakerChange func(name string, from, to circuitbreaker.State)) *ProgressRepository {
	return &ProgressRepository{
		conn:    conn,
		timeout: conn.config.QueryTimeout,
		breaker: circuitbreaker.DatabaseBreaker(onBreakerChange,
			circuitbreaker.WithIsFailure(countsAgainstBreaker)),
	}
}

// BreakerState reports the database breaker state.
func (r *ProgressRepository) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}

// BreakerStats reports the database breaker counters.
func (r *ProgressRepository) BreakerStats() circuitbreaker.Stats {
	return r.breaker.Stats()
}

// countsAgainstBreaker ignores outcomes that prove the database answered.
func countsAgainstBreaker(err error) bool {
	return !errors.Is(err, shared.ErrNotFound) &&
		!errors.Is(err, shared.ErrConcurrentModification) &&
		!errors.Is(err, shared.ErrInvalidFormat)
}

func (r *ProgressRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

// Load returns the stored document, or an error matching shared.ErrNotFound.
func (r *ProgressRepository) Load(ctx context.Context, userID string) (progression.Document, error) {
	var doc progression.Document
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := r.withTimeout(ctx)
		defer cancel()

		var raw []byte
		err := r.conn.QueryRow(ctx,
			`SELECT document FROM progression_documents WHERE user_id = $1`, userID,
		).Scan(&raw)
		if err != nil {
			if isNoRows(err) {
				return shared.WrapError("postgres", "Load", shared.ErrNotFound,
					fmt.Sprintf("no progression document for %q", userID), err)
			}
			return fmt.Errorf("load progression %s: %w", userID, err)
		}

		doc, err = progression.DecodeDocument(raw)
		return err
	})
	return doc, err
}

// Save upserts the document.
func (r *ProgressRepository) Save(ctx context.Context, doc progression.Document) error {
	return r.breaker.Execute(ctx, func(ctx context.Context) error {
		return r.save(ctx, doc)
	})
}

func (r *ProgressRepository) save(ctx context.Context, doc progression.Document) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	raw, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode progression %s: %w", doc.UserID, err)
	}

	tag, err := r.conn.Exec(ctx, `
		INSERT INTO progression_documents
			(user_id, revision, version, current_rank, current_level, total_xp, prestige_level, document, saved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			revision       = EXCLUDED.revision,
			version        = EXCLUDED.version,
			current_rank   = EXCLUDED.current_rank,
			current_level  = EXCLUDED.current_level,
			total_xp       = EXCLUDED.total_xp,
			prestige_level = EXCLUDED.prestige_level,
			document       = EXCLUDED.document,
			saved_at       = EXCLUDED.saved_at,
			updated_at     = NOW()
		WHERE progression_documents.revision <= EXCLUDED.revision`,
		doc.UserID,
		doc.Revision,
		doc.Version,
		string(doc.Progress.CurrentRank),
		doc.Progress.CurrentLevel,
		doc.Progress.TotalXP,
		doc.Prestige.Level,
		raw,
		doc.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("save progression %s: %w", doc.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return shared.NewDomainError("postgres", "Save", shared.ErrConcurrentModification,
			fmt.Sprintf("stored revision for %q is newer than %d", doc.UserID, doc.Revision))
	}
	return nil
}

// Delete removes a user's document.
func (r *ProgressRepository) Delete(ctx context.Context, userID string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.conn.Exec(ctx, `DELETE FROM progression_documents WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete progression %s: %w", userID, err)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT LOG
// ══════════════════════════════════════════════════════════════════════════════

// RecordEvent appends an event envelope to the audit log. Replays are ignored.
func (r *ProgressRepository) RecordEvent(ctx context.Context, env shared.EventEnvelope) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	_, err := r.conn.Exec(ctx, `
		INSERT INTO progression_events (id, user_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		env.ID, env.AggregateID, string(env.Type), []byte(env.Payload), env.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("record event %s: %w", env.Type, err)
	}
	return nil
}

// ListEvents returns the newest events of a user, newest first.
func (r *ProgressRepository) ListEvents(ctx context.Context, userID string, limit int) ([]shared.EventEnvelope, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, event_type, payload, occurred_at
		FROM progression_events
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", userID, err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (shared.EventEnvelope, error) {
		var (
			env     shared.EventEnvelope
			typ     string
			payload []byte
		)
		if err := row.Scan(&env.ID, &env.AggregateID, &typ, &payload, &env.OccurredAt); err != nil {
			return env, err
		}
		env.Type = shared.EventType(typ)
		env.Version = shared.EnvelopeVersion
		env.Payload = json.RawMessage(payload)
		return env, nil
	})
}
