package dispatch

import "fmt"

// FormatMessage renders the channel-specific text for a message. The
// receiver variant only differs for whispers ("X whispers to you: ..."). A
// message that cannot be formatted falls back to the raw content rather
// than failing.
func FormatMessage(channel, senderName, content string, forReceiver bool) string {
	if senderName == "" && channel != ChannelSystem {
		// Without a sender name most templates degenerate; fall back to
		// the raw content.
		return content
	}

	switch channel {
	case ChannelSay:
		return fmt.Sprintf("%s says: %s", senderName, content)
	case ChannelLocal:
		return fmt.Sprintf("%s (local): %s", senderName, content)
	case ChannelGlobal:
		return fmt.Sprintf("%s (global): %s", senderName, content)
	case ChannelEmote, ChannelPose:
		return fmt.Sprintf("%s %s", senderName, content)
	case ChannelWhisper:
		if forReceiver {
			return fmt.Sprintf("%s whispers to you: %s", senderName, content)
		}
		return fmt.Sprintf("%s whispers: %s", senderName, content)
	case ChannelSystem:
		return fmt.Sprintf("[SYSTEM] %s", content)
	case ChannelAdmin:
		return fmt.Sprintf("[ADMIN] %s: %s", senderName, content)
	default:
		return fmt.Sprintf("%s (%s): %s", senderName, channel, content)
	}
}
