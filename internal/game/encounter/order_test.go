package encounter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/tracker/internal/game/encounter"
)

func fp(v float64) *float64 { return &v }

func ids(cs []encounter.Combatant) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestSortOrder_InitiativeDescending(t *testing.T) {
	cs := []encounter.Combatant{
		{ID: "low", Initiative: fp(5), AddedOrder: 0, TieBreak: 0},
		{ID: "high", Initiative: fp(18), AddedOrder: 1, TieBreak: 1},
		{ID: "mid", Initiative: fp(12.8123), AddedOrder: 2, TieBreak: 2},
	}
	got := encounter.SortOrder(cs)
	assert.Equal(t, []string{"high", "mid", "low"}, ids(got))
}

func TestSortOrder_UnrolledSortLast(t *testing.T) {
	cs := []encounter.Combatant{
		{ID: "unrolled", AddedOrder: 0, TieBreak: 0},
		{ID: "negative", Initiative: fp(-3), AddedOrder: 1, TieBreak: 1},
	}
	got := encounter.SortOrder(cs)
	// Even a deeply negative score beats an absent one.
	assert.Equal(t, []string{"negative", "unrolled"}, ids(got))
}

func TestSortOrder_TieBreakThenAddedOrder(t *testing.T) {
	cs := []encounter.Combatant{
		{ID: "c", Initiative: fp(10), TieBreak: 7, AddedOrder: 2},
		{ID: "a", Initiative: fp(10), TieBreak: 3, AddedOrder: 9},
		{ID: "b", Initiative: fp(10), TieBreak: 3, AddedOrder: 1},
	}
	got := encounter.SortOrder(cs)
	// TieBreak ascending; equal TieBreak falls through to AddedOrder.
	assert.Equal(t, []string{"b", "a", "c"}, ids(got))
}

func TestSortOrder_DoesNotMutateInput(t *testing.T) {
	cs := []encounter.Combatant{
		{ID: "x", Initiative: fp(1), AddedOrder: 0},
		{ID: "y", Initiative: fp(2), AddedOrder: 1},
	}
	_ = encounter.SortOrder(cs)
	assert.Equal(t, "x", cs[0].ID)
	assert.Equal(t, "y", cs[1].ID)
}

// TestPropertySortOrder_Idempotent: sort(sort(xs)) == sort(xs), and repeated
// calls with unchanged input give the same order.
func TestPropertySortOrder_Idempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		cs := make([]encounter.Combatant, n)
		for i := range cs {
			cs[i] = encounter.Combatant{
				ID:         rapid.StringMatching(`c[0-9]{4}`).Draw(rt, "id"),
				AddedOrder: i,
				TieBreak:   rapid.IntRange(0, 5).Draw(rt, "tb"),
			}
			if rapid.Bool().Draw(rt, "rolled") {
				cs[i].Initiative = fp(float64(rapid.IntRange(-5, 25).Draw(rt, "init")))
			}
		}
		once := encounter.SortOrder(cs)
		twice := encounter.SortOrder(once)
		assert.Equal(rt, ids(once), ids(twice))
	})
}

func TestDetectTiedPlayers_IntegerTieOnly(t *testing.T) {
	// A and C are players tied at 15; B is an NPC whose fractional score
	// happens to sit between them.
	cs := []encounter.Combatant{
		{ID: "A", Kind: encounter.KindPlayer, Initiative: fp(15), AddedOrder: 0},
		{ID: "B", Kind: encounter.KindNPC, Initiative: fp(15.0 - 0.0421), AddedOrder: 1},
		{ID: "C", Kind: encounter.KindPlayer, Initiative: fp(15), AddedOrder: 2},
		{ID: "D", Kind: encounter.KindPlayer, Initiative: fp(9), AddedOrder: 3},
	}
	tied := encounter.DetectTiedPlayers(cs)
	assert.Equal(t, map[string]bool{"A": true, "C": true}, tied)
}

func TestDetectTiedPlayers_NoTies(t *testing.T) {
	cs := []encounter.Combatant{
		{ID: "A", Initiative: fp(15), AddedOrder: 0},
		{ID: "B", Initiative: fp(14), AddedOrder: 1},
		{ID: "C", AddedOrder: 2},
	}
	assert.Empty(t, encounter.DetectTiedPlayers(cs))
}

func tiedTrio() []encounter.Combatant {
	return []encounter.Combatant{
		{ID: "A", Kind: encounter.KindPlayer, Initiative: fp(15), TieBreak: 0, AddedOrder: 0},
		{ID: "B", Kind: encounter.KindPlayer, Initiative: fp(15), TieBreak: 1, AddedOrder: 1},
		{ID: "C", Kind: encounter.KindPlayer, Initiative: fp(15), TieBreak: 2, AddedOrder: 2},
		{ID: "npc", Kind: encounter.KindNPC, Initiative: fp(17.9102), TieBreak: 3, AddedOrder: 3},
	}
}

func TestResolveTie_MoveEarlier(t *testing.T) {
	out, changed := encounter.ResolveTie(tiedTrio(), "B", encounter.MoveEarlier)
	require.True(t, changed)
	got := encounter.SortOrder(out)
	assert.Equal(t, []string{"npc", "B", "A", "C"}, ids(got))
}

func TestResolveTie_MoveLater(t *testing.T) {
	out, changed := encounter.ResolveTie(tiedTrio(), "B", encounter.MoveLater)
	require.True(t, changed)
	got := encounter.SortOrder(out)
	assert.Equal(t, []string{"npc", "A", "C", "B"}, ids(got))
}

func TestResolveTie_BoundaryIsNoop(t *testing.T) {
	_, changed := encounter.ResolveTie(tiedTrio(), "A", encounter.MoveEarlier)
	assert.False(t, changed)
	_, changed = encounter.ResolveTie(tiedTrio(), "C", encounter.MoveLater)
	assert.False(t, changed)
}

func TestResolveTie_FractionalInitiativeIsNoop(t *testing.T) {
	_, changed := encounter.ResolveTie(tiedTrio(), "npc", encounter.MoveEarlier)
	assert.False(t, changed)
}

func TestResolveTie_UntiedIsNoop(t *testing.T) {
	cs := []encounter.Combatant{
		{ID: "A", Initiative: fp(15), AddedOrder: 0},
		{ID: "B", Initiative: fp(12), AddedOrder: 1},
	}
	_, changed := encounter.ResolveTie(cs, "A", encounter.MoveLater)
	assert.False(t, changed)
}

// TestResolveTie_NeverCrossesValueBoundary: moving inside a tied group never
// reorders the group relative to other initiative values.
func TestResolveTie_NeverCrossesValueBoundary(t *testing.T) {
	out, changed := encounter.ResolveTie(tiedTrio(), "C", encounter.MoveEarlier)
	require.True(t, changed)
	got := encounter.SortOrder(out)
	// The NPC at 17.9102 stays on top regardless of tie shuffling below.
	assert.Equal(t, "npc", got[0].ID)
}

func TestResolveTie_UnknownCombatant(t *testing.T) {
	_, changed := encounter.ResolveTie(tiedTrio(), "ghost", encounter.MoveLater)
	assert.False(t, changed)
}
