// Package lucidity provides PostgreSQL-backed storage for player lucidity
// tiers. The tier drives the communication-dampening transform applied per
// recipient during chat fan-out.
package lucidity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emberwood/gameserver/internal/player"
)

// Tier is a player's lucidity level. Lower is less restrictive; TierLucid
// is the default and applies no dampening.
type Tier int

// Lucidity tiers, least restrictive first.
const (
	TierLucid Tier = iota
	TierHazy
	TierDelirious
	TierLost
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierLucid:
		return "lucid"
	case TierHazy:
		return "hazy"
	case TierDelirious:
		return "delirious"
	case TierLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Clamp bounds an arbitrary integer into the valid tier range.
func Clamp(v int) Tier {
	if v < int(TierLucid) {
		return TierLucid
	}
	if v > int(TierLost) {
		return TierLost
	}
	return Tier(v)
}

// Store manages lucidity tiers in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a lucidity store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Tier returns the player's current lucidity tier. A player without a row
// is fully lucid.
func (s *Store) Tier(ctx context.Context, id player.ID) (Tier, error) {
	const query = `SELECT tier FROM player_lucidity WHERE player_id = $1`

	var tier int
	err := s.db.QueryRowContext(ctx, query, id.String()).Scan(&tier)
	if errors.Is(err, sql.ErrNoRows) {
		return TierLucid, nil
	}
	if err != nil {
		return TierLucid, fmt.Errorf("lucidity: tier of %s: %w", id, err)
	}
	return Clamp(tier), nil
}

// SetTier upserts the player's lucidity tier.
func (s *Store) SetTier(ctx context.Context, id player.ID, tier Tier) error {
	const query = `
		INSERT INTO player_lucidity (player_id, tier, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (player_id) DO UPDATE SET tier = $2, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, id.String(), int(Clamp(int(tier)))); err != nil {
		return fmt.Errorf("lucidity: set tier of %s: %w", id, err)
	}
	return nil
}
