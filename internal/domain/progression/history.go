package progression

import (
	"sort"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION HISTORY
// ══════════════════════════════════════════════════════════════════════════════

// AddHistoryEntry добавляет запись в конец журнала. Пустые ID и Timestamp
// заполняются движком.
func (e *Engine) AddHistoryEntry(s State, entry HistoryEntry) State {
	if entry.ID == "" {
		entry.ID = e.cfg.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = e.Now()
	}
	if entry.Type == "" {
		entry.Type = HistoryMilestone
	}
	next := s.Clone()
	next.History = append(next.History, cloneHistory([]HistoryEntry{entry})...)
	return next
}

// RecentHistory возвращает не более limit записей, от новых к старым.
// Сортировка устойчива; сохранённый журнал не переупорядочивается.
func RecentHistory(s State, limit int) []HistoryEntry {
	if limit <= 0 {
		return []HistoryEntry{}
	}
	out := cloneHistory(s.History)
	if out == nil {
		return []HistoryEntry{}
	}
	// Журнал хранится в порядке добавления, поэтому обход с конца
	// сохраняет порядок для записей с одинаковым временем.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out
}

// HistoryByType возвращает записи указанного типа в порядке добавления.
func HistoryByType(s State, t HistoryType) []HistoryEntry {
	out := []HistoryEntry{}
	for _, h := range cloneHistory(s.History) {
		if h.Type == t {
			out = append(out, h)
		}
	}
	return out
}
