package rankapi

import (
	"strings"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// ToRemoteProgress converts the wire DTO into the application view.
// Rank ids and timestamps are validated later, against the engine's rank table.
func ToRemoteProgress(dto *UserRankProgressDTO) (ranks.RemoteProgress, error) {
	if dto == nil || strings.TrimSpace(dto.CurrentRank) == "" {
		return ranks.RemoteProgress{}, shared.ErrRankAPIInvalidResponse
	}

	return ranks.RemoteProgress{
		CurrentRank:      dto.CurrentRank,
		CurrentLevel:     dto.CurrentLevel,
		CurrentXP:        dto.CurrentXP,
		TotalXP:          dto.TotalXP,
		XPToNextLevel:    dto.XPToNextLevel,
		MLCoinsEarned:    dto.MLCoinsEarned,
		PrestigeLevel:    dto.PrestigeLevel,
		Multiplier:       dto.Multiplier,
		ActivityStreak:   dto.ActivityStreak,
		LastActivityDate: dto.LastActivityDate,
		LastRankUp:       nonEmpty(dto.LastRankUp),
		NextRank:         nonEmpty(dto.NextRank),
	}, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
