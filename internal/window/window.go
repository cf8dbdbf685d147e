// Package window implements the Meta messaging-window rules: a business may
// message a user on Facebook or Instagram only within 24 hours of that user's
// last inbound message, or within a longer human-agent window for tagged
// sends. SMS and email carry no such restriction.
package window

import (
	"time"

	"github.com/salinassolar/crm-messaging/internal/model"
)

type Kind string

const (
	KindNone       Kind = "none"
	KindStandard   Kind = "standard"
	KindHumanAgent Kind = "humanAgent"
)

// StandardWindow is the Meta platform's standard messaging window.
const StandardWindow = 24 * time.Hour

// State is the evaluated window for one (contact, channel) pair.
// ExpiresAt is zero when the channel has no window at all.
type State struct {
	Kind      Kind
	ExpiresAt time.Time
	Remaining time.Duration
}

// CanSendAny reports whether any message content may be sent.
func (s State) CanSendAny() bool {
	return s.Kind == KindStandard
}

// CanSendHumanAgent reports whether a human-agent-tagged message may be sent.
func (s State) CanSendHumanAgent() bool {
	return s.Kind == KindStandard || s.Kind == KindHumanAgent
}

// Evaluate computes the window state for a channel given the contact's most
// recent inbound message on that channel (nil if there never was one).
// humanAgent is the extended-window duration; values at or below the
// standard window disable it (config validation enforces the floor).
func Evaluate(ch model.Channel, lastInboundAt *time.Time, now time.Time, humanAgent time.Duration) State {
	if !ch.Meta() {
		// SMS and email are always sendable.
		return State{Kind: KindStandard}
	}

	if lastInboundAt == nil {
		return State{Kind: KindNone}
	}

	standardEnd := lastInboundAt.Add(StandardWindow)
	if now.Before(standardEnd) {
		return State{
			Kind:      KindStandard,
			ExpiresAt: standardEnd,
			Remaining: standardEnd.Sub(now),
		}
	}

	if humanAgent > StandardWindow {
		extendedEnd := lastInboundAt.Add(humanAgent)
		if now.Before(extendedEnd) {
			return State{
				Kind:      KindHumanAgent,
				ExpiresAt: extendedEnd,
				Remaining: extendedEnd.Sub(now),
			}
		}
	}

	return State{Kind: KindNone, ExpiresAt: standardEnd}
}

// AvailableChannels returns the channels the contact can currently be
// messaged on, default channel first. SMS wins the tie-break because it has
// no window restriction.
func AvailableChannels(c model.Contact, lastInbound map[model.Channel]*time.Time, now time.Time, humanAgent time.Duration) []model.Channel {
	var out []model.Channel
	for _, ch := range model.Channels {
		if c.RecipientFor(ch) == "" {
			continue
		}
		st := Evaluate(ch, lastInbound[ch], now, humanAgent)
		if st.Kind == KindNone {
			continue
		}
		out = append(out, ch)
	}
	return out
}
