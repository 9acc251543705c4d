package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/emberwood/gameserver/internal/lucidity"
	"github.com/emberwood/gameserver/internal/metrics"
	"github.com/emberwood/gameserver/internal/mute"
	"github.com/emberwood/gameserver/internal/player"
	"github.com/emberwood/gameserver/internal/ratelimit"
)

// RoomResolver resolves rooms to subzones and connected occupants.
type RoomResolver interface {
	Subzone(ctx context.Context, roomID string) (string, error)
	Players(ctx context.Context, roomID string) ([]player.ID, error)
}

// PresenceSource answers subzone membership questions.
type PresenceSource interface {
	PlayersInSubzone(subzone string) []player.ID
	SubzoneOf(id player.ID) (string, bool)
}

// Deliverer is the connection layer's delivery primitive plus the set of
// all connected players (for global broadcasts).
type Deliverer interface {
	Deliver(id player.ID, envelope any) error
	Players() []player.ID
}

// MuteSource batch-preloads mute lists for a set of receivers.
type MuteSource interface {
	Preload(ctx context.Context, receivers []player.ID) (mute.Table, error)
}

// TierSource looks up a player's lucidity tier.
type TierSource interface {
	Tier(ctx context.Context, id player.ID) (lucidity.Tier, error)
}

// FloodGuard decides whether a sender may emit on a channel right now.
type FloodGuard interface {
	Allow(ctx context.Context, sender player.ID, rule ratelimit.Rule) (bool, error)
}

// Engine fans inbound chat messages out to their recipients. It is wired as
// the handler for every chat subject subscription.
type Engine struct {
	rooms    RoomResolver
	presence PresenceSource
	conns    Deliverer
	mutes    MuteSource
	tiers    TierSource
	flood    FloodGuard
	metrics  *metrics.Collector
}

// NewEngine creates an Engine. Flood control and metrics are optional; nil
// disables them.
func NewEngine(rooms RoomResolver, presence PresenceSource, conns Deliverer, mutes MuteSource, tiers TierSource, flood FloodGuard, m *metrics.Collector) *Engine {
	return &Engine{
		rooms:    rooms,
		presence: presence,
		conns:    conns,
		mutes:    mutes,
		tiers:    tiers,
		flood:    flood,
		metrics:  m,
	}
}

// HandleChatMessage processes one decoded chat payload end to end:
// extraction, validation, formatting, target resolution, per-recipient
// filtering, delivery, and the sender echo.
func (e *Engine) HandleChatMessage(ctx context.Context, data map[string]any) error {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RecordProcessing(time.Since(start))
		}
	}()

	fields, err := ExtractChatFields(data)
	if err != nil {
		return err
	}

	// Flood-limited messages are dropped, not errored: retrying a dropped
	// message would only feed the flood.
	if e.flood != nil {
		if rule, ok := ratelimit.RuleFor(fields.Channel); ok {
			allowed, ferr := e.flood.Allow(ctx, fields.SenderID, rule)
			if ferr == nil && !allowed {
				log.Printf("[dispatch] flood-limited %s message from %s dropped", fields.Channel, fields.SenderID)
				return nil
			}
		}
	}

	targets, err := e.resolveTargets(ctx, fields)
	if err != nil {
		return fmt.Errorf("dispatch: resolve targets for %s: %w", fields.MessageID, err)
	}

	// On echo-eligible channels the sender is served by the echo decision,
	// never as an ordinary recipient. Broadcast channels (global, system,
	// admin) deliver to the sender like everyone else.
	if echoChannels[fields.Channel] {
		targets = excludePlayer(targets, fields.SenderID)
	}

	receiverEnv := NewChatEnvelope(fields, FormatMessage(fields.Channel, fields.SenderName, fields.Content, true))
	e.deliverToTargets(ctx, fields, receiverEnv, targets)

	if ShouldEchoToSender(fields.Channel, EnvelopeTypeChat, fields.MessageID, targets, false) {
		// Echo uses the sender's own formatting variant and skips the
		// mute/dampening pipeline entirely.
		senderEnv := NewChatEnvelope(fields, FormatMessage(fields.Channel, fields.SenderName, fields.Content, false))
		if err := e.conns.Deliver(fields.SenderID, senderEnv); err != nil {
			log.Printf("[dispatch] echo to sender %s: %v", fields.SenderID, err)
		}
	}
	return nil
}

// resolveTargets maps a message's channel to its recipient set.
func (e *Engine) resolveTargets(ctx context.Context, f ChatFields) ([]player.ID, error) {
	switch f.Channel {
	case ChannelSay, ChannelEmote, ChannelPose:
		if f.RoomID == "" {
			return nil, nil
		}
		return e.rooms.Players(ctx, f.RoomID)

	case ChannelLocal:
		subzone, err := e.localSubzone(ctx, f)
		if err != nil {
			return nil, err
		}
		if subzone == "" {
			return nil, nil
		}
		return e.presence.PlayersInSubzone(subzone), nil

	case ChannelGlobal, ChannelSystem, ChannelAdmin:
		return e.conns.Players(), nil

	case ChannelWhisper:
		if !f.HasTarget {
			return nil, nil
		}
		return []player.ID{f.TargetPlayerID}, nil

	default:
		// Unknown channels broadcast to the sender's room when known.
		if f.RoomID == "" {
			return nil, nil
		}
		return e.rooms.Players(ctx, f.RoomID)
	}
}

// localSubzone resolves the subzone for a local message, preferring the
// message's room and falling back to the sender's tracked subzone.
func (e *Engine) localSubzone(ctx context.Context, f ChatFields) (string, error) {
	if f.RoomID != "" {
		subzone, err := e.rooms.Subzone(ctx, f.RoomID)
		if err != nil {
			return "", err
		}
		if subzone != "" {
			return subzone, nil
		}
	}
	if subzone, ok := e.presence.SubzoneOf(f.SenderID); ok {
		return subzone, nil
	}
	return "", nil
}

// deliverToTargets applies mute filtering and dampening per recipient and
// delivers the result. A failure for one target never aborts the rest.
func (e *Engine) deliverToTargets(ctx context.Context, f ChatFields, env Envelope, targets []player.ID) {
	if len(targets) == 0 {
		return
	}

	// One pipelined lookup for the whole recipient set; on failure the
	// message flows unmuted rather than blocking the fan-out.
	muteTable, err := e.mutes.Preload(ctx, targets)
	if err != nil {
		log.Printf("[dispatch] mute preload failed, delivering unfiltered: %v", err)
		muteTable = mute.Table{}
	}

	for _, target := range targets {
		if muteTable.Muted(target, f.SenderID) {
			continue
		}

		tier, err := e.tiers.Tier(ctx, target)
		if err != nil {
			// Least-restrictive default: a tier lookup failure must not
			// block delivery.
			log.Printf("[dispatch] tier lookup for %s: %v", target, err)
			tier = lucidity.TierLucid
		}

		result := Dampen(tier, env.Data.Message)
		if result.Blocked {
			continue
		}

		out := env
		out.Data.Message = result.Message
		if len(result.Tags) > 0 {
			out.Data.Tags = append(append([]string(nil), env.Data.Tags...), result.Tags...)
		}

		if err := e.conns.Deliver(target, out); err != nil {
			log.Printf("[dispatch] deliver to %s: %v", target, err)
		}
	}
}

func excludePlayer(targets []player.ID, id player.ID) []player.ID {
	out := targets[:0]
	for _, t := range targets {
		if t != id {
			out = append(out, t)
		}
	}
	return out
}
