package encounter

import (
	"math"
	"sort"

	"github.com/cory-johannsen/tracker/internal/game/initiative"
)

// Direction selects which way ResolveTie moves a combatant inside its tied
// peer group.
type Direction int

const (
	// MoveEarlier shifts the combatant one position toward the front of the
	// tied group (acts sooner).
	MoveEarlier Direction = iota
	// MoveLater shifts it one position toward the back.
	MoveLater
)

// SortOrder returns the total turn order over the given combatants as a new
// slice. The key, in precedence order:
//
//  1. Combatants with an initiative value sort before those without
//     (absent is treated as negative infinity).
//  2. Initiative value, descending.
//  3. TieBreak, ascending. Only discriminates within an exact-tie group;
//     NPC fractional noise makes NPC exact ties vanishingly unlikely, so in
//     practice this key orders tied players.
//  4. AddedOrder, ascending. Always unique, so the order is total.
//
// Postcondition: The input is not mutated; sorting an already-sorted slice
// returns the same order (the key is a strict total order).
func SortOrder(cs []Combatant) []Combatant {
	out := cloneRoster(cs)
	sort.Slice(out, func(i, j int) bool { return rankBefore(out[i], out[j]) })
	return out
}

// rankBefore reports whether a precedes b in the total turn order.
func rankBefore(a, b Combatant) bool {
	ai, bi := math.Inf(-1), math.Inf(-1)
	if a.Initiative != nil {
		ai = *a.Initiative
	}
	if b.Initiative != nil {
		bi = *b.Initiative
	}
	if ai != bi {
		return ai > bi
	}
	if a.TieBreak != b.TieBreak {
		return a.TieBreak < b.TieBreak
	}
	return a.AddedOrder < b.AddedOrder
}

// DetectTiedPlayers returns the ids of combatants involved in an exact
// integer-initiative tie. Combatants are grouped by their initiative value
// when it is integer-valued; every group with two or more members is
// reported. NPC-like combatants carry fractional scores and therefore never
// appear in the result.
//
// Postcondition: Every returned id belongs to a combatant whose initiative
// equals that of at least one other returned combatant.
func DetectTiedPlayers(cs []Combatant) map[string]bool {
	groups := make(map[float64][]string)
	for _, c := range cs {
		if c.Initiative == nil || !initiative.IsWhole(*c.Initiative) {
			continue
		}
		groups[*c.Initiative] = append(groups[*c.Initiative], c.ID)
	}

	tied := make(map[string]bool)
	for _, ids := range groups {
		if len(ids) < 2 {
			continue
		}
		for _, id := range ids {
			tied[id] = true
		}
	}
	return tied
}

// ResolveTie moves the combatant with the given id one position in dir among
// its exact-tie peers, reassigning TieBreak values 0..n-1 across the group in
// the new order. It returns the updated roster and true, or the input roster
// unchanged and false when there is nothing to do: the combatant is unknown,
// has no initiative or a fractional one, has no tied peer, or is already at
// the requested boundary of its group.
//
// Postcondition: Combatants outside the tied group are untouched; the move
// never crosses an initiative-value boundary.
func ResolveTie(cs []Combatant, id string, dir Direction) ([]Combatant, bool) {
	var target *Combatant
	for i := range cs {
		if cs[i].ID == id {
			target = &cs[i]
			break
		}
	}
	if target == nil || target.Initiative == nil || !initiative.IsWhole(*target.Initiative) {
		return cs, false
	}

	// Collect the exact-tie peer group in current turn order.
	value := *target.Initiative
	ordered := SortOrder(cs)
	var group []Combatant
	for _, c := range ordered {
		if c.Initiative != nil && *c.Initiative == value {
			group = append(group, c)
		}
	}
	if len(group) < 2 {
		return cs, false
	}

	pos := -1
	for i, c := range group {
		if c.ID == id {
			pos = i
			break
		}
	}
	switch dir {
	case MoveEarlier:
		if pos <= 0 {
			return cs, false
		}
		group[pos-1], group[pos] = group[pos], group[pos-1]
	case MoveLater:
		if pos < 0 || pos >= len(group)-1 {
			return cs, false
		}
		group[pos], group[pos+1] = group[pos+1], group[pos]
	default:
		return cs, false
	}

	// Reassign tie-break keys 0..n-1 in the new group order.
	newKeys := make(map[string]int, len(group))
	for i, c := range group {
		newKeys[c.ID] = i
	}
	out := cloneRoster(cs)
	for i := range out {
		if key, ok := newKeys[out[i].ID]; ok {
			out[i].TieBreak = key
		}
	}
	return out, true
}
