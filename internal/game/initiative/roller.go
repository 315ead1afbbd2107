// Package initiative implements the d20 initiative roll and the roll-mode
// selection used when (re)rolling groups of combatants.
package initiative

import (
	"math"

	"github.com/cory-johannsen/tracker/internal/game/dice"
)

// Mode selects which combatants a group roll applies to.
type Mode int

const (
	// ModeAll rerolls every combatant in the encounter.
	ModeAll Mode = iota
	// ModeNPCOnly rerolls only NPC-like combatants.
	ModeNPCOnly
	// ModeSpecific rerolls only the combatants whose ids are listed.
	ModeSpecific
)

// String returns a human-readable mode label.
func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeNPCOnly:
		return "npc"
	case ModeSpecific:
		return "specific"
	default:
		return "unknown"
	}
}

// perturbSteps is the number of discrete fractional offsets an NPC roll can
// take. Offsets are k/10000 for k in [1, perturbSteps], i.e. 0.0001..0.1999.
// Zero is excluded so an NPC score is never exactly integer-valued.
const perturbSteps = 1999

// Roll produces one initiative score: d20 + modifier.
//
// Player-controlled combatants (npcLike == false) always receive a whole
// number. NPC-like combatants have a fractional offset in (0, 0.1999]
// subtracted from the base score, so their scores are never integer-valued
// and collide with overwhelming improbability. This removes NPCs from manual
// tie-breaking entirely; only player-vs-player ties need resolving.
//
// Precondition: src must be non-nil.
// Postcondition: npcLike == false implies the result is integer-valued;
// npcLike == true implies it is not.
func Roll(modifier int, npcLike bool, src dice.Source) float64 {
	base := float64(src.Intn(20) + 1 + modifier)
	if !npcLike {
		return base
	}
	offset := float64(src.Intn(perturbSteps)+1) / 10000.0
	return base - offset
}

// IsWhole reports whether an initiative value is integer-valued.
// Player scores are always whole; NPC scores never are.
func IsWhole(v float64) bool {
	return v == math.Trunc(v)
}
