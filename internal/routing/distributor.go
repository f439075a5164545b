package routing

import (
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// Distribution is the computed ring plan for a ring group: the ordered
// target list plus how the platform should work through it.
type Distribution struct {
	// Extensions in ring order. Empty means no active members survived
	// filtering and the group's fallback applies.
	Extensions []string

	// Sequential is true when members ring one at a time; false rings the
	// whole set in parallel.
	Sequential bool

	// Timeout in seconds per ring attempt.
	Timeout int

	// Turns is how many passes a sequential loop makes over Extensions.
	Turns int
}

// Distribute computes the ring plan for a group from a member snapshot.
// The snapshot must already be ordered by priority. Inactive members and
// members whose extension kind cannot ring are filtered out. The function
// is stateless per invocation: for round_robin the rotating offset is
// supplied by the caller, who obtained it from the persisted group state.
func Distribute(g *models.RingGroup, members []database.MemberSnapshot, rrOffset int) Distribution {
	active := make([]string, 0, len(members))
	for _, m := range members {
		if !m.Extension.Active {
			continue
		}
		// Only user extensions ring as group members; aliases to other
		// constructs are skipped rather than recursed into.
		if m.Extension.Kind != models.ExtensionKindUser {
			continue
		}
		active = append(active, m.Extension.Extension)
	}

	dist := Distribution{Timeout: g.RingTimeout}
	if len(active) == 0 {
		return dist
	}

	switch g.Strategy {
	case models.StrategySequential:
		dist.Extensions = active
		dist.Sequential = true
		dist.Turns = g.RingTurns

	case models.StrategyRoundRobin:
		dist.Extensions = rotate(active, rrOffset)

	default:
		// simultaneous, also the safety net for unknown strategies
		dist.Extensions = active
	}
	return dist
}

// rotate returns the list starting at offset, wrapping around.
func rotate(list []string, offset int) []string {
	n := len(list)
	if n == 0 {
		return list
	}
	offset = ((offset % n) + n) % n
	if offset == 0 {
		return list
	}
	rotated := make([]string, 0, n)
	rotated = append(rotated, list[offset:]...)
	rotated = append(rotated, list[:offset]...)
	return rotated
}
