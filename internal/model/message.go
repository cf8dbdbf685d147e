package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Pending Status = "pending"
	Sending Status = "sending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelEmail     Channel = "email"
	ChannelFacebook  Channel = "facebook"
	ChannelInstagram Channel = "instagram"
)

// Channels lists every supported channel in dispatch order.
var Channels = []Channel{ChannelSMS, ChannelEmail, ChannelFacebook, ChannelInstagram}

func ParseChannel(raw string) (Channel, error) {
	c := Channel(raw)
	for _, known := range Channels {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown channel: %q", raw)
}

// Meta reports whether the channel is subject to the platform messaging window.
func (c Channel) Meta() bool {
	return c == ChannelFacebook || c == ChannelInstagram
}

// Payload is the channel-agnostic message content. Subject is only used by
// email; Tag marks a Meta send as qualifying for the human-agent window.
type Payload struct {
	Body       string `json:"body"`
	Subject    string `json:"subject,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Tag        string `json:"tag,omitempty"`
}

const TagHumanAgent = "human_agent"

type QueuedMessage struct {
	ID            uuid.UUID
	Channel       Channel
	Recipient     string
	Payload       Payload
	Status        Status
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	ExternalID    *string
	SentAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
