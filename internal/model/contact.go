package model

import "github.com/google/uuid"

// Contact carries the per-platform identities a message can be addressed to.
// Empty identity fields mean the contact is unreachable on that channel.
type Contact struct {
	ID           uuid.UUID
	Name         string
	Phone        string
	Email        string
	FacebookPSID string
	InstagramSID string
}

// RecipientFor returns the channel-specific address, or "" if the contact
// has no identity on that channel.
func (c Contact) RecipientFor(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return c.Phone
	case ChannelEmail:
		return c.Email
	case ChannelFacebook:
		return c.FacebookPSID
	case ChannelInstagram:
		return c.InstagramSID
	}
	return ""
}
