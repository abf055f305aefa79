package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/marketfuse/internal/domain"
)

const (
	// ChannelSnapshots carries every published unified snapshot.
	ChannelSnapshots = "marketfuse:snapshots"

	// ChannelSetups carries every published setup evaluation.
	ChannelSetups = "marketfuse:setups"

	// streamMaxLen is the approximate maximum length for the mirror streams,
	// enforced via XADD MAXLEN ~.
	streamMaxLen int64 = 10000
)

// envelope is the wire wrapper for every published payload.
type envelope struct {
	Type   string      `json:"type"`
	Symbol string      `json:"symbol"`
	At     time.Time   `json:"at"`
	Data   interface{} `json:"data"`
}

// setupsPayload bundles the ranked evaluation with its fail-fast verdicts.
type setupsPayload struct {
	Evaluation domain.Evaluation       `json:"evaluation"`
	Validated  []domain.ValidatedSetup `json:"validated"`
}

// Publisher fans engine output to Redis Pub/Sub for live consumers and
// mirrors every message onto a capped stream for late joiners.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher backed by the given Client.
func NewPublisher(c *Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		rdb:    c.Underlying(),
		logger: logger.With(slog.String("component", "publisher")),
	}
}

// PublishSnapshot sends one unified snapshot.
func (p *Publisher) PublishSnapshot(ctx context.Context, snap domain.UnifiedSnapshot) error {
	return p.publish(ctx, ChannelSnapshots, envelope{
		Type:   "snapshot",
		Symbol: snap.Symbol,
		At:     snap.GeneratedAt,
		Data:   snap,
	})
}

// PublishSetups sends one setup evaluation together with its validated
// records.
func (p *Publisher) PublishSetups(ctx context.Context, eval domain.Evaluation, validated []domain.ValidatedSetup) error {
	return p.publish(ctx, ChannelSetups, envelope{
		Type:   "setups",
		Symbol: eval.Symbol,
		At:     eval.GeneratedAt,
		Data:   setupsPayload{Evaluation: eval, Validated: validated},
	})
}

func (p *Publisher) publish(ctx context.Context, channel string, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("publish: marshal %s: %w", env.Type, err)
	}

	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish: %s: %w", channel, err)
	}

	// Mirror onto the capped stream; a failed mirror is logged, not fatal,
	// since live consumers already received the message.
	args := &redis.XAddArgs{
		Stream: channel,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := p.rdb.XAdd(ctx, args).Err(); err != nil {
		p.logger.Warn("stream mirror failed",
			slog.String("stream", channel),
			slog.String("error", err.Error()),
		)
	}
	return nil
}
