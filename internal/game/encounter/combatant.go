// Package encounter implements the initiative-ordered combat tracker: the
// combatant roster, the turn-order sort with its tie-break scheme, and the
// turn/round state machine.
package encounter

import "fmt"

// Kind distinguishes player-controlled combatants from NPC-like combatants.
// The kind is copied from the source actor's category at instantiation time
// and selects the tie-break scheme: players roll whole numbers and may need
// manual tie-breaking, NPC-like combatants carry fractional scores that make
// exact ties vanishingly unlikely.
type Kind int

const (
	KindPlayer Kind = iota
	KindNPC
)

// String returns a human-readable kind label.
func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNPC:
		return "npc"
	default:
		return "unknown"
	}
}

// ParseKind maps a stored kind label back to its Kind value.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "player":
		return KindPlayer, nil
	case "npc":
		return KindNPC, nil
	default:
		return 0, fmt.Errorf("unknown combatant kind %q", s)
	}
}

// Combatant is one actor instance inside one encounter. It is a value type:
// every mutation in this package builds a new Combatant and a new roster
// slice, never writing through a shared record. That rules out the
// partial-update aliasing bugs that come with handing pointers to renderers.
type Combatant struct {
	// ID is the unique instance id, distinct from the library actor the
	// combatant was instantiated from.
	ID string
	// BaseActorID is a weak back-reference to the library actor; it may no
	// longer resolve if the source actor was deleted.
	BaseActorID string
	// DisplayName is the actor name, suffixed with an instance number
	// (" 2", " 3", ...) only when the base name is already taken.
	DisplayName string
	Kind        Kind
	// Initiative is nil until rolled or set manually. Combat cannot progress
	// while any combatant that still owes a turn lacks one.
	Initiative *float64
	// Modifier is the initiative bonus copied from the source actor at
	// instantiation time; later edits to the actor do not propagate.
	Modifier int
	// TieBreak orders combatants sharing the exact same initiative value,
	// ascending. It defaults to AddedOrder so untouched ties fall back to
	// insertion order, and is only reassigned by ResolveTie.
	TieBreak int
	// AddedOrder is assigned once at creation, strictly increasing. Final
	// always-unique tie-break key.
	AddedOrder int
	// TakenTurn is reset for every combatant at the start of each round.
	TakenTurn bool
}

// NPCLike reports whether the combatant uses the fractional initiative scheme.
func (c Combatant) NPCLike() bool { return c.Kind == KindNPC }

// HasInitiative reports whether an initiative value has been assigned.
func (c Combatant) HasInitiative() bool { return c.Initiative != nil }

// InitiativeValue returns the assigned initiative, or 0 when none is set.
// Callers that care about the distinction must check HasInitiative first.
func (c Combatant) InitiativeValue() float64 {
	if c.Initiative == nil {
		return 0
	}
	return *c.Initiative
}

// WithInitiative returns a copy of the combatant with a fresh initiative
// value. The pointer is newly allocated so the copy shares no state with the
// receiver.
func (c Combatant) WithInitiative(v float64) Combatant {
	c.Initiative = &v
	return c
}

// clone returns a deep copy of the combatant, re-allocating the initiative
// pointer so snapshots never alias live roster state.
func (c Combatant) clone() Combatant {
	if c.Initiative != nil {
		v := *c.Initiative
		c.Initiative = &v
	}
	return c
}

// cloneRoster deep-copies a combatant slice.
func cloneRoster(cs []Combatant) []Combatant {
	out := make([]Combatant, len(cs))
	for i, c := range cs {
		out[i] = c.clone()
	}
	return out
}

// NextDisplayName picks the display name for a new instance of baseName:
// the bare name if free, otherwise the smallest unused positive suffix
// starting at 2. Names freed by removal are reused; names still held by a
// live combatant never are.
//
// Precondition: baseName must be non-empty.
// Postcondition: The returned name matches no existing combatant's DisplayName.
func NextDisplayName(existing []Combatant, baseName string) string {
	taken := make(map[string]bool, len(existing))
	for _, c := range existing {
		taken[c.DisplayName] = true
	}
	if !taken[baseName] {
		return baseName
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s %d", baseName, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
