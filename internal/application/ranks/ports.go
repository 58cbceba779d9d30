// Package ranks hosts the stateful progression façade and the session
// registry that serves many users from one process.
package ranks

import (
	"context"

	"github.com/gamilit/ranks-engine/internal/domain/progression"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// RemoteProgress is the user progress as reported by the remote rank service.
// Dates are ISO-8601 strings and are parsed during hydration.
type RemoteProgress struct {
	CurrentRank      string
	CurrentLevel     int
	CurrentXP        int
	TotalXP          int
	XPToNextLevel    int
	MLCoinsEarned    int
	PrestigeLevel    int
	Multiplier       float64
	ActivityStreak   int
	LastActivityDate string
	LastRankUp       *string
	NextRank         *string
}

// RankSource fetches the authoritative progress for a user.
type RankSource interface {
	CurrentRank(ctx context.Context, userID string) (RemoteProgress, error)
}

// PrestigeConfirmer asks the remote side to accept a prestige before it is
// applied locally.
type PrestigeConfirmer interface {
	ConfirmPrestige(ctx context.Context, userID string, nextLevel int) error
}

// SnapshotLoader reads a persisted progression document.
// It returns an error matching shared.ErrNotFound when none exists.
type SnapshotLoader interface {
	Load(ctx context.Context, userID string) (progression.Document, error)
}

// SnapshotSaver persists a progression document.
type SnapshotSaver interface {
	Save(ctx context.Context, doc progression.Document) error
}

// SnapshotStore combines loading and saving.
type SnapshotStore interface {
	SnapshotLoader
	SnapshotSaver
}
