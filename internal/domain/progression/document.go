package progression

import (
	"encoding/json"
	"time"

	"github.com/gamilit/ranks-engine/internal/domain/shared"
)

// DocumentVersion - текущая версия формата сохранённого документа.
const DocumentVersion = 1

// Document - плоский JSON-документ состояния прогрессии.
// Даты сериализуются в ISO-8601 (RFC3339).
type Document struct {
	Version  int       `json:"version"`
	SavedAt  time.Time `json:"savedAt"`
	Revision int64     `json:"revision"`
	State
}

// NewDocument упаковывает состояние в документ.
func NewDocument(s State, revision int64, savedAt time.Time) Document {
	return Document{
		Version:  DocumentVersion,
		SavedAt:  savedAt,
		Revision: revision,
		State:    s.Clone(),
	}
}

// Encode сериализует документ.
func (d Document) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// DecodeDocument разбирает документ и проверяет версию.
func DecodeDocument(data []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return Document{}, shared.WrapError("progression", "Decode", shared.ErrInvalidFormat, "decode progression document", err)
	}
	if d.Version == 0 || d.Version > DocumentVersion {
		return Document{}, shared.ErrUnsupportedDocument
	}
	if d.History == nil {
		d.History = []HistoryEntry{}
	}
	if d.XPEvents == nil {
		d.XPEvents = []XPEvent{}
	}
	if d.Registered == nil {
		d.Registered = []MultiplierSource{}
	}
	return d, nil
}

// Normalize приводит восстановленное состояние к инвариантам движка:
// известный ранг, уровень ≥ 1, порог по кривой, 0 ≤ CurrentXP < порога,
// пересчитанные NextRank и множители.
func (e *Engine) Normalize(s State) (State, []shared.Event, error) {
	next := s.Clone()
	if _, ok := e.cfg.Ranks.Get(next.Progress.CurrentRank); !ok {
		return s, nil, shared.WrapError("progression", "Normalize", shared.ErrNotFound, "unknown rank "+string(next.Progress.CurrentRank), shared.ErrRankNotFound)
	}
	if next.Progress.CurrentLevel < 1 {
		next.Progress.CurrentLevel = 1
	}
	if next.Progress.CurrentXP < 0 {
		next.Progress.CurrentXP = 0
	}
	if next.Progress.TotalXP < 0 {
		next.Progress.TotalXP = 0
	}
	if next.Progress.MLCoinsEarned < 0 {
		next.Progress.MLCoinsEarned = 0
	}
	if next.Prestige.CumulativeMultiplier < 1.0 {
		next.Prestige.CumulativeMultiplier = 1.0
	}
	next.Progress.PrestigeLevel = next.Prestige.Level
	next.Progress.XPToNextLevel = e.cfg.Curve(next.Progress.CurrentLevel)

	next.Progress.NextRank = nil
	if after, ok := e.cfg.Ranks.Next(next.Progress.CurrentRank); ok {
		next.Progress.NextRank = after.ID.Ptr()
	}

	events, err := e.cascade(&next, e.Now())
	if err != nil {
		return s, nil, err
	}
	var multEvents []shared.Event
	next, multEvents = e.UpdateMultipliers(next)
	return next, append(events, multEvents...), nil
}
