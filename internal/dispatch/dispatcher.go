// Package dispatch drives one scheduler tick: claim eligible messages per
// channel, pace them against the provider rate limit, send, and record the
// outcome with backoff on failure.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/salinassolar/crm-messaging/internal/backoff"
	"github.com/salinassolar/crm-messaging/internal/model"
	"github.com/salinassolar/crm-messaging/internal/repo"
	"github.com/salinassolar/crm-messaging/internal/sender"
)

type Config struct {
	// TickInterval is the scheduler period; together with each channel's
	// minimum send interval it bounds the per-tick batch size.
	TickInterval time.Duration

	// SendIntervals is the minimum spacing between consecutive sends per
	// channel. Providers enforce hard per-second caps, so spacing inside
	// the tick is a correctness requirement, not an optimization.
	SendIntervals map[model.Channel]time.Duration

	// SendTimeout bounds each outbound call so a hung provider cannot
	// stall a channel's batch.
	SendTimeout time.Duration
}

// SentHook is invoked after a message is successfully marked sent.
type SentHook func(ctx context.Context, msg model.QueuedMessage, externalID string)

type Dispatcher struct {
	repo    repo.MessageRepository
	senders sender.Registry
	cfg     Config
	log     *slog.Logger

	limiters map[model.Channel]*rate.Limiter

	onSent SentHook
}

func New(r repo.MessageRepository, senders sender.Registry, cfg Config, log *slog.Logger) (*Dispatcher, error) {
	if cfg.TickInterval <= 0 {
		return nil, errors.New("tick interval must be > 0")
	}
	if cfg.SendTimeout <= 0 {
		return nil, errors.New("send timeout must be > 0")
	}
	if log == nil {
		log = slog.Default()
	}

	limiters := make(map[model.Channel]*rate.Limiter)
	for _, ch := range senders.Channels() {
		interval := cfg.SendIntervals[ch]
		if interval <= 0 {
			return nil, errors.New("send interval must be > 0 for channel " + string(ch))
		}
		// Limiters persist across ticks so spacing also holds over tick
		// boundaries.
		limiters[ch] = rate.NewLimiter(rate.Every(interval), 1)
	}

	return &Dispatcher{
		repo:     r,
		senders:  senders,
		cfg:      cfg,
		log:      log,
		limiters: limiters,
	}, nil
}

// WithSentHook registers a post-send hook (delivery-receipt cache).
func (d *Dispatcher) WithSentHook(h SentHook) *Dispatcher {
	d.onSent = h
	return d
}

// BatchSize is the number of sends a channel can fit into one tick.
func (d *Dispatcher) BatchSize(ch model.Channel) int {
	n := int(d.cfg.TickInterval / d.cfg.SendIntervals[ch])
	if n < 1 {
		n = 1
	}
	return n
}

// Tick processes every registered channel once. Channels run concurrently;
// sends within a channel are serialized by its limiter.
func (d *Dispatcher) Tick(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ch := range d.senders.Channels() {
		wg.Add(1)
		go func(ch model.Channel) {
			defer wg.Done()
			d.processChannel(ctx, ch)
		}(ch)
	}
	wg.Wait()
}

func (d *Dispatcher) processChannel(ctx context.Context, ch model.Channel) {
	msgs, err := d.repo.ClaimBatch(ctx, ch, d.BatchSize(ch), time.Now().UTC())
	if err != nil {
		// Leave the channel's messages pending for the next tick.
		d.log.Error("claim batch failed", "channel", ch, "err", err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	snd, ok := d.senders.For(ch)
	if !ok {
		d.log.Error("no sender registered", "channel", ch)
		d.releaseAll(ctx, msgs)
		return
	}

	lim := d.limiters[ch]

	sent, failed := 0, 0
	for i, m := range msgs {
		if err := lim.Wait(ctx); err != nil {
			// Shutting down: the rest of the batch was never attempted.
			d.releaseAll(ctx, msgs[i:])
			return
		}
		if d.sendOne(ctx, snd, m) {
			sent++
		} else {
			failed++
		}
	}

	d.log.Info("channel batch processed", "channel", ch, "claimed", len(msgs), "sent", sent, "failed", failed)
}

// sendOne attempts one delivery and records the outcome. Failures are
// isolated per message and never abort the batch.
func (d *Dispatcher) sendOne(ctx context.Context, snd sender.ChannelSender, m model.QueuedMessage) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	externalID, err := snd.Send(sendCtx, m)
	cancel()

	if err != nil {
		attempt := m.AttemptCount + 1
		next, final := backoff.Next(attempt, time.Now().UTC())

		if markErr := d.repo.MarkFailed(ctx, m.ID, err.Error(), attempt, next, final); markErr != nil {
			d.logMarkError("mark failed", m, markErr)
			return false
		}

		if final {
			d.log.Error("message permanently failed", "id", m.ID, "channel", m.Channel, "attempts", attempt, "err", err)
		} else {
			d.log.Warn("send failed, retry scheduled", "id", m.ID, "channel", m.Channel, "attempt", attempt, "next_attempt_at", next, "err", err)
		}
		return false
	}

	if markErr := d.repo.MarkSent(ctx, m.ID, externalID); markErr != nil {
		d.logMarkError("mark sent", m, markErr)
		return false
	}

	if d.onSent != nil {
		d.onSent(ctx, m, externalID)
	}
	return true
}

func (d *Dispatcher) releaseAll(ctx context.Context, msgs []model.QueuedMessage) {
	for _, m := range msgs {
		if err := d.repo.Release(context.WithoutCancel(ctx), m.ID); err != nil {
			d.logMarkError("release", m, err)
		}
	}
}

func (d *Dispatcher) logMarkError(op string, m model.QueuedMessage, err error) {
	if errors.Is(err, repo.ErrNotClaimed) {
		// Duplicate completion signal; the row is already settled.
		d.log.Warn(op+" skipped, message not claimed", "id", m.ID, "channel", m.Channel)
		return
	}
	d.log.Error(op+" failed", "id", m.ID, "channel", m.Channel, "err", err)
}
