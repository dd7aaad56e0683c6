package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wecare/clinic/internal/platform/db"
	"github.com/wecare/clinic/internal/platform/telemetry"
)

// Channel is the LISTEN channel the change trigger notifies on.
const Channel = "clinic_changes"

// Change is the JSON payload emitted by the notify_change trigger.
type Change struct {
	Table   string      `json:"table"`
	Op      string      `json:"op"`
	ID      string      `json:"id"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

// Source delivers notifications until ctx is cancelled.
type Source interface {
	Run(ctx context.Context, handle func(db.Notification)) error
}

// Bridge turns database notifications into hub events.
type Bridge struct {
	hub    *Hub
	logger zerolog.Logger
	now    func() time.Time
}

func NewBridge(hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{
		hub:    hub,
		logger: logger.With().Str("component", "realtime_bridge").Logger(),
		now:    time.Now,
	}
}

// Run blocks, forwarding notifications from src until ctx is done.
func (b *Bridge) Run(ctx context.Context, src Source) error {
	return src.Run(ctx, b.Handle)
}

// Handle publishes one change to its table topic and to the user topic of
// every affected user.
func (b *Bridge) Handle(n db.Notification) {
	var ch Change
	if err := json.Unmarshal([]byte(n.Payload), &ch); err != nil {
		b.logger.Warn().Err(err).Str("payload", n.Payload).Msg("malformed change notification")
		return
	}
	if ch.Table == "" {
		return
	}
	telemetry.RecordRealtimeEvent(ch.Table)

	base := Event{
		Type:      "change",
		Table:     ch.Table,
		Op:        ch.Op,
		ID:        ch.ID,
		Timestamp: b.now().UTC(),
	}

	ev := base
	ev.Topic = TableTopic(ch.Table)
	delivered := b.hub.Broadcast(ev)

	seen := make(map[uuid.UUID]bool, len(ch.UserIDs))
	for _, id := range ch.UserIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		ev := base
		ev.Topic = UserTopic(id)
		delivered += b.hub.Broadcast(ev)
	}
	b.logger.Debug().Str("table", ch.Table).Str("op", ch.Op).Int("delivered", delivered).Msg("change fanned out")
}
