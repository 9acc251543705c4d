// Package subject validates NATS subjects and builds the canonical subjects
// used for chat routing. The canonical templates are the only stable routing
// contract between services; anything publishing chat must build subjects
// through this package.
package subject

import (
	"fmt"
	"strings"
)

// Canonical subject templates and fixed subjects.
const (
	Global = "chat.global"
	System = "chat.system"
	Events = "events.game"

	sayPrefix     = "chat.say.room."
	localPrefix   = "chat.local.subzone."
	whisperPrefix = "chat.whisper.player."
	emotePrefix   = "chat.emote.room."
	posePrefix    = "chat.pose.room."
)

// Wildcard subscriptions for the room-scoped and player-scoped templates.
const (
	SayRooms       = sayPrefix + "*"
	WhisperPlayers = whisperPrefix + "*"
	EmoteRooms     = emotePrefix + "*"
	PoseRooms      = posePrefix + "*"
)

// forbidden characters beyond whitespace. NATS would accept some of these,
// but they have caused routing bugs upstream and are banned outright.
const forbiddenChars = "@#$"

// Validate applies the strict subject rules: a subject must be non-empty,
// must not start or end with a dot, must not contain consecutive dots,
// whitespace, or any of '@', '#', '$'.
func Validate(s string) error {
	if s == "" {
		return fmt.Errorf("subject: empty subject")
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") {
		return fmt.Errorf("subject: %q must not start or end with a dot", s)
	}
	if strings.Contains(s, "..") {
		return fmt.Errorf("subject: %q contains consecutive dots", s)
	}
	if strings.ContainsAny(s, forbiddenChars) {
		return fmt.Errorf("subject: %q contains a forbidden character (one of %q)", s, forbiddenChars)
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return fmt.Errorf("subject: %q contains whitespace", s)
		}
	}
	return nil
}

// Builder constructs canonical subjects and checks subjects before the
// broker client touches the wire. With Enabled false all checks pass; with
// Strict false only the basic non-empty/no-whitespace rules apply.
type Builder struct {
	Enabled bool
	Strict  bool
}

// NewBuilder returns a Builder with full validation enabled.
func NewBuilder() *Builder {
	return &Builder{Enabled: true, Strict: true}
}

// Check validates a subject according to the builder's settings.
func (b *Builder) Check(s string) error {
	if !b.Enabled {
		return nil
	}
	if b.Strict {
		return Validate(s)
	}
	if s == "" {
		return fmt.Errorf("subject: empty subject")
	}
	if strings.ContainsAny(s, " \t\n\r") {
		return fmt.Errorf("subject: %q contains whitespace", s)
	}
	return nil
}

// Say returns the subject for room-scoped say chat.
func (b *Builder) Say(roomID string) (string, error) {
	return b.build(sayPrefix + roomID)
}

// Local returns the subject for subzone-scoped local chat.
func (b *Builder) Local(subzone string) (string, error) {
	return b.build(localPrefix + subzone)
}

// Whisper returns the subject for a direct whisper to a player.
func (b *Builder) Whisper(targetID string) (string, error) {
	return b.build(whisperPrefix + targetID)
}

// Emote returns the subject for room-scoped emotes.
func (b *Builder) Emote(roomID string) (string, error) {
	return b.build(emotePrefix + roomID)
}

// Pose returns the subject for room-scoped poses.
func (b *Builder) Pose(roomID string) (string, error) {
	return b.build(posePrefix + roomID)
}

func (b *Builder) build(s string) (string, error) {
	if err := b.Check(s); err != nil {
		return "", err
	}
	return s, nil
}
