package dispatch

// Chat channels.
const (
	ChannelSay     = "say"
	ChannelLocal   = "local"
	ChannelGlobal  = "global"
	ChannelWhisper = "whisper"
	ChannelEmote   = "emote"
	ChannelPose    = "pose"
	ChannelSystem  = "system"
	ChannelAdmin   = "admin"
)

// EnvelopeTypeChat is the envelope type for chat deliveries.
const EnvelopeTypeChat = "chat_message"

// Envelope is the per-delivery payload handed to a client connection. It is
// built once per inbound broker message; per-recipient rewrites copy it.
type Envelope struct {
	Type string       `json:"type"`
	Data EnvelopeData `json:"data"`
}

// EnvelopeData carries the chat fields plus the formatted message text.
type EnvelopeData struct {
	Channel         string   `json:"channel"`
	SenderID        string   `json:"sender_id"`
	SenderName      string   `json:"sender_name"`
	Message         string   `json:"message"`
	OriginalContent string   `json:"original_content"`
	MessageID       string   `json:"message_id"`
	Timestamp       string   `json:"timestamp,omitempty"`
	RoomID          string   `json:"room_id,omitempty"`
	TargetPlayerID  string   `json:"target_player_id,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// NewChatEnvelope builds the chat envelope for a set of extracted fields
// and a formatted message.
func NewChatEnvelope(f ChatFields, formatted string) Envelope {
	data := EnvelopeData{
		Channel:         f.Channel,
		SenderID:        f.SenderID.String(),
		SenderName:      f.SenderName,
		Message:         formatted,
		OriginalContent: f.Content,
		MessageID:       f.MessageID,
		Timestamp:       f.Timestamp,
		RoomID:          f.RoomID,
	}
	if f.HasTarget {
		data.TargetPlayerID = f.TargetPlayerID.String()
	}
	return Envelope{Type: EnvelopeTypeChat, Data: data}
}
