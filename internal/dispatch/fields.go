// Package dispatch is the fan-out brain: it turns decoded broker chat
// messages into per-recipient envelopes, applying mute filtering, lucidity
// dampening, and self-echo rules before handing deliveries to the
// connection layer.
package dispatch

import (
	"fmt"

	"github.com/emberwood/gameserver/internal/player"
)

// ChatFields are the normalized fields of an inbound chat message. Channel,
// SenderID, SenderName, Content, and MessageID are mandatory.
type ChatFields struct {
	Channel    string
	SenderID   player.ID
	SenderName string
	Content    string
	MessageID  string
	Timestamp  string
	RoomID     string

	TargetPlayerID player.ID
	HasTarget      bool
}

// FieldTypeError reports a payload field of the wrong type. This guards
// against programmer error in publishers; it is a hard failure, not a soft
// default.
type FieldTypeError struct {
	Field string
	Value any
}

func (e *FieldTypeError) Error() string {
	return fmt.Sprintf("dispatch: field %q must be a string, got %T", e.Field, e.Value)
}

// ExtractChatFields pulls and validates the chat fields from a decoded
// broker payload. Whisper messages map the wire field target_id to the
// target player; a missing target means "no target" rather than an error.
func ExtractChatFields(data map[string]any) (ChatFields, error) {
	var f ChatFields
	var err error

	if f.Channel, err = requireString(data, "channel"); err != nil {
		return f, err
	}
	senderRaw, err := requireString(data, "sender_id")
	if err != nil {
		return f, err
	}
	sender, ok := player.Normalize(senderRaw)
	if !ok {
		return f, &FieldTypeError{Field: "sender_id", Value: senderRaw}
	}
	f.SenderID = sender

	if f.SenderName, err = requireString(data, "sender_name"); err != nil {
		return f, err
	}
	if f.Content, err = requireString(data, "content"); err != nil {
		return f, err
	}
	if f.MessageID, err = requireString(data, "message_id"); err != nil {
		return f, err
	}

	if f.Timestamp, err = optionalString(data, "timestamp"); err != nil {
		return f, err
	}
	if f.RoomID, err = optionalString(data, "room_id"); err != nil {
		return f, err
	}

	if f.Channel == ChannelWhisper {
		f.TargetPlayerID, f.HasTarget = player.Normalize(data["target_id"])
	}

	return f, nil
}

func requireString(data map[string]any, field string) (string, error) {
	v, ok := data[field]
	if !ok {
		return "", &FieldTypeError{Field: field, Value: nil}
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldTypeError{Field: field, Value: v}
	}
	return s, nil
}

func optionalString(data map[string]any, field string) (string, error) {
	v, ok := data[field]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldTypeError{Field: field, Value: v}
	}
	return s, nil
}
