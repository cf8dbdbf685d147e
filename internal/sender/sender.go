// Package sender defines the outbound delivery capability per channel.
package sender

import (
	"context"

	"github.com/salinassolar/crm-messaging/internal/model"
)

// ChannelSender performs the outbound call for one channel. Implementations
// wrap vendor HTTP APIs and return the provider's message id on success.
type ChannelSender interface {
	Send(ctx context.Context, msg model.QueuedMessage) (externalID string, err error)
}

// Registry maps channels to their senders. Adding a channel means adding one
// implementation here, not touching dispatch call sites.
type Registry map[model.Channel]ChannelSender

func (r Registry) For(ch model.Channel) (ChannelSender, bool) {
	s, ok := r[ch]
	return s, ok
}

// Channels returns the registered channels in canonical dispatch order.
func (r Registry) Channels() []model.Channel {
	var out []model.Channel
	for _, ch := range model.Channels {
		if _, ok := r[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
