package dispatch

import "github.com/emberwood/gameserver/internal/player"

// echoChannels are the channels whose senders receive their own message
// back through the pipeline. Global and system broadcasts already reach the
// sender as an ordinary recipient.
var echoChannels = map[string]bool{
	ChannelSay:     true,
	ChannelLocal:   true,
	ChannelWhisper: true,
	ChannelEmote:   true,
	ChannelPose:    true,
}

// ShouldEchoToSender decides whether the sender gets their own message
// back. Echo never happens for ineligible channels, non-chat envelopes, or
// messages without an ID. With resolved targets the sender always hears
// their own line; with none, only if nothing else has told them already.
func ShouldEchoToSender(channel, envelopeType, messageID string, targets []player.ID, senderNotified bool) bool {
	if !echoChannels[channel] || envelopeType != EnvelopeTypeChat || messageID == "" {
		return false
	}
	if len(targets) > 0 {
		return true
	}
	return !senderNotified
}
