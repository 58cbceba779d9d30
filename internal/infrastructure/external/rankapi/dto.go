package rankapi

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the envelope every rank API endpoint answers with.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    *T     `json:"data"`
	Error   string `json:"error,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK DTOs
// ══════════════════════════════════════════════════════════════════════════════

// UserRankProgressDTO is the remote view of a user's progression.
// Timestamps stay as ISO-8601 strings and are parsed during hydration.
type UserRankProgressDTO struct {
	CurrentRank      string  `json:"currentRank"`
	CurrentLevel     int     `json:"currentLevel"`
	CurrentXP        int     `json:"currentXP"`
	XPToNextLevel    int     `json:"xpToNextLevel"`
	TotalXP          int     `json:"totalXP"`
	MLCoinsEarned    int     `json:"mlCoinsEarned"`
	PrestigeLevel    int     `json:"prestigeLevel"`
	Multiplier       float64 `json:"multiplier"`
	LastRankUp       *string `json:"lastRankUp,omitempty"`
	ActivityStreak   int     `json:"activityStreak"`
	LastActivityDate string  `json:"lastActivityDate"`
	NextRank         *string `json:"nextRank,omitempty"`
}

// PrestigeRequestDTO asks the remote side to accept a prestige.
type PrestigeRequestDTO struct {
	NextLevel int `json:"nextLevel"`
}

// PrestigeResultDTO is the body of a prestige confirmation.
type PrestigeResultDTO struct {
	Accepted      bool   `json:"accepted"`
	PrestigeLevel int    `json:"prestigeLevel"`
	Reason        string `json:"reason,omitempty"`
}
