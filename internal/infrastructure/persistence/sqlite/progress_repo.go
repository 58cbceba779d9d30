package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/progression"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ProgressRepo stores one progression document per user.
type ProgressRepo struct {
	db *sql.DB
}

var _ ranks.SnapshotStore = (*ProgressRepo)(nil)

func NewProgressRepo(db *sql.DB) *ProgressRepo {
	return &ProgressRepo{db: db}
}

// Load returns the stored document, or an error matching shared.ErrNotFound.
func (r *ProgressRepo) Load(ctx context.Context, userID string) (progression.Document, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM progression_documents WHERE user_id = ?`, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return progression.Document{}, shared.WrapError("sqlite", "Load", shared.ErrNotFound,
				fmt.Sprintf("no progression document for %q", userID), err)
		}
		return progression.Document{}, fmt.Errorf("progress load: %w", err)
	}
	return progression.DecodeDocument([]byte(raw))
}

// Save upserts the document. An older revision never overwrites a newer one.
func (r *ProgressRepo) Save(ctx context.Context, doc progression.Document) error {
	raw, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("progress encode: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO progression_documents
			(user_id, revision, version, current_rank, current_level, total_xp, prestige_level, document, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			revision = excluded.revision,
			version = excluded.version,
			current_rank = excluded.current_rank,
			current_level = excluded.current_level,
			total_xp = excluded.total_xp,
			prestige_level = excluded.prestige_level,
			document = excluded.document,
			saved_at = excluded.saved_at,
			updated_at = CURRENT_TIMESTAMP
		WHERE progression_documents.revision <= excluded.revision
	`,
		doc.UserID,
		doc.Revision,
		doc.Version,
		string(doc.Progress.CurrentRank),
		doc.Progress.CurrentLevel,
		doc.Progress.TotalXP,
		doc.Prestige.Level,
		string(raw),
		doc.SavedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("progress save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("progress save: %w", err)
	}
	if n == 0 {
		return shared.NewDomainError("sqlite", "Save", shared.ErrConcurrentModification,
			fmt.Sprintf("stored revision for %q is newer than %d", doc.UserID, doc.Revision))
	}
	return nil
}

// Delete removes a user's document.
func (r *ProgressRepo) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM progression_documents WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("progress delete: %w", err)
	}
	return nil
}

// Summary is a stored user's headline numbers.
type Summary struct {
	UserID        string
	Rank          string
	Level         int
	TotalXP       int
	PrestigeLevel int
	Revision      int64
}

// List returns stored users ordered by total XP.
func (r *ProgressRepo) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, current_rank, current_level, total_xp, prestige_level, revision
		FROM progression_documents
		ORDER BY prestige_level DESC, total_xp DESC, user_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("progress list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.UserID, &s.Rank, &s.Level, &s.TotalXP, &s.PrestigeLevel, &s.Revision); err != nil {
			return nil, fmt.Errorf("progress list scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
