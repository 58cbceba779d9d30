// Package eventhandler содержит обработчики доменных событий прогрессии.
// Обработчики реагируют на изменения состояния пользователя и запускают
// побочные эффекты: сохранение документа и запись журнала событий.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/pkg/retry"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Сохраняет актуальный документ пользователя после каждого изменения.
//
// Правила:
// - Сохраняется только «грязная» сессия: серия событий одной мутации
//   приводит к одной записи
// - Конфликт ревизий означает, что другой инстанс записал более новое
//   состояние, и локальная сессия выгружается
// - События с других инстансов выгружают локальную сессию, чтобы
//   следующий запрос перечитал документ
// ═══════════════════════════════════════════════════════════════════════════

// SessionRegistry - доступ к живым сессиям без их создания.
type SessionRegistry interface {
	Peek(userID string) (*ranks.Store, bool)
	Evict(userID string)
}

// EventRecorder пишет события в журнал аудита.
type EventRecorder interface {
	RecordEvent(ctx context.Context, env shared.EventEnvelope) error
}

// remoteEvent - событие, пришедшее с другого инстанса через шину.
type remoteEvent interface {
	Envelope() shared.EventEnvelope
}

// ProgressChangedConfig содержит конфигурацию обработчика.
type ProgressChangedConfig struct {
	// SaveTimeout ограничивает одну попытку сохранения вместе с ретраями.
	SaveTimeout time.Duration

	// RecordEvents включает запись событий в журнал.
	RecordEvents bool
}

// DefaultProgressChangedConfig возвращает конфигурацию по умолчанию.
func DefaultProgressChangedConfig() ProgressChangedConfig {
	return ProgressChangedConfig{
		SaveTimeout:  5 * time.Second,
		RecordEvents: true,
	}
}

// OnProgressChangedHandler сохраняет документ прогрессии после изменений.
type OnProgressChangedHandler struct {
	sessions SessionRegistry
	saver    ranks.SnapshotSaver
	recorder EventRecorder
	retrier  *retry.Retrier
	logger   *slog.Logger
	config   ProgressChangedConfig
}

// NewOnProgressChangedHandler создаёт обработчик. recorder может быть nil.
func NewOnProgressChangedHandler(
	sessions SessionRegistry,
	saver ranks.SnapshotSaver,
	recorder EventRecorder,
	logger *slog.Logger,
	config ProgressChangedConfig,
) *OnProgressChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = DefaultProgressChangedConfig().SaveTimeout
	}

	h := &OnProgressChangedHandler{
		sessions: sessions,
		saver:    saver,
		recorder: recorder,
		logger:   logger.With("handler", "on_progress_changed"),
		config:   config,
	}
	h.retrier = retry.DatabaseRetrier(
		retry.WithRetryIf(isTransient),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.logger.Warn("retrying snapshot save",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
		}),
	)
	return h
}

// WithRetrier заменяет стратегию повторов (используется в тестах).
func (h *OnProgressChangedHandler) WithRetrier(r *retry.Retrier) *OnProgressChangedHandler {
	h.retrier = r
	return h
}

// Handle обрабатывает событие прогрессии.
// Реализует интерфейс shared.EventHandler.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.SaveTimeout)
	defer cancel()

	userID := event.AggregateID()

	// 1. Событие с другого инстанса: локальная копия устарела
	if _, ok := event.(remoteEvent); ok {
		if _, live := h.sessions.Peek(userID); live {
			h.sessions.Evict(userID)
			h.logger.Debug("evicted session after remote change",
				"user_id", userID,
				"event_type", event.EventType(),
			)
		}
		return nil
	}

	// 2. Журнал событий
	if h.config.RecordEvents && h.recorder != nil {
		if err := h.record(ctx, event); err != nil {
			// Журнал не критичен, документ всё равно сохраняем
			h.logger.Error("failed to record event",
				"user_id", userID,
				"event_type", event.EventType(),
				"error", err,
			)
		}
	}

	// 3. Сохранение документа
	return h.persist(ctx, userID)
}

func (h *OnProgressChangedHandler) record(ctx context.Context, event shared.Event) error {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("envelope: %w", err)
	}
	return h.recorder.RecordEvent(ctx, env)
}

func (h *OnProgressChangedHandler) persist(ctx context.Context, userID string) error {
	store, ok := h.sessions.Peek(userID)
	if !ok || !store.Dirty() {
		return nil
	}

	doc := store.Document()
	err := h.retrier.Do(ctx, func(ctx context.Context) error {
		return h.saver.Save(ctx, doc)
	})
	switch {
	case err == nil:
		store.MarkSaved(doc.Revision)
		h.logger.Debug("snapshot saved",
			"user_id", userID,
			"revision", doc.Revision,
		)
		return nil

	case errors.Is(err, shared.ErrConcurrentModification):
		h.sessions.Evict(userID)
		h.logger.Warn("stored snapshot is newer, session evicted",
			"user_id", userID,
			"revision", doc.Revision,
		)
		return nil

	default:
		h.logger.Error("failed to save snapshot",
			"user_id", userID,
			"revision", doc.Revision,
			"error", err,
		)
		return fmt.Errorf("save snapshot %s: %w", userID, err)
	}
}

// Register подписывает обработчик на все события шины.
func (h *OnProgressChangedHandler) Register(sub shared.EventSubscriber) error {
	return sub.SubscribeAll(h.Handle)
}

// isTransient отделяет временные ошибки хранилища от логических.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, shared.ErrConcurrentModification) || shared.IsValidation(err) {
		return false
	}
	return true
}
