package encounter

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tracker/internal/game/condition"
	"github.com/cory-johannsen/tracker/internal/game/dice"
	"github.com/cory-johannsen/tracker/internal/game/initiative"
)

// ErrCombatantNotFound is returned when a combatant id does not resolve.
var ErrCombatantNotFound = errors.New("combatant not found")

// ErrInvalidInitiative is returned for non-finite manual initiative values.
var ErrInvalidInitiative = errors.New("initiative must be a finite number")

// Tracker is the combat state machine for one encounter: it owns the round
// number, the active-combatant pointer, the per-combatant turn flags, and the
// condition ledger, and recomputes the turn order after every change.
//
// The tracker is mutated by a single interactive session; methods are
// serialised with a mutex so the snapshot publisher and background consumers
// can never observe a half-applied change. The roster is held in turn order
// at all times.
type Tracker struct {
	mu          sync.Mutex
	encounterID string
	round       int
	activeID    string
	combatants  []Combatant
	ledger      *condition.Ledger
	nextAdded   int
	src         dice.Source
	logger      *zap.Logger
	pub         *Publisher
	last        Snapshot
}

// LoadState is the persisted encounter state a Tracker is initialised from.
type LoadState struct {
	EncounterID string
	Round       int
	ActiveID    string
	Combatants  []Combatant
	Attachments []condition.Attachment
}

// NewTracker builds a Tracker from a loaded encounter state.
//
// The round number is clamped to at least 1. If the persisted active id is
// empty or no longer present, the highest-ranked combatant that already has
// an initiative value becomes active; when none has one, the active pointer
// stays empty and CanProgress reports false.
//
// Precondition: src and logger must be non-nil.
// Postcondition: Returns a Tracker with version-1 snapshot published, or an
// error when the persisted attachments contain a duplicate pair.
func NewTracker(state LoadState, src dice.Source, logger *zap.Logger) (*Tracker, error) {
	ledger := condition.NewLedger()
	if err := ledger.Load(state.Attachments); err != nil {
		return nil, fmt.Errorf("initialising encounter %q: %w", state.EncounterID, err)
	}

	round := state.Round
	if round < 1 {
		round = 1
	}

	t := &Tracker{
		encounterID: state.EncounterID,
		round:       round,
		combatants:  SortOrder(state.Combatants),
		ledger:      ledger,
		src:         src,
		logger:      logger,
		pub:         NewPublisher(),
	}
	for _, c := range t.combatants {
		if c.AddedOrder >= t.nextAdded {
			t.nextAdded = c.AddedOrder + 1
		}
	}

	if t.indexOf(state.ActiveID) >= 0 {
		t.activeID = state.ActiveID
	} else {
		t.activeID = t.firstWithInitiative()
	}

	t.last = t.pub.Publish(t.snapshotLocked())
	return t, nil
}

// Subscribe registers a snapshot consumer. See Publisher.Subscribe.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	return t.pub.Subscribe()
}

// Snapshot returns a deep copy of the most recently published snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last.Clone()
}

// EncounterID returns the encounter this tracker drives.
func (t *Tracker) EncounterID() string { return t.encounterID }

// CanProgress reports whether turn and round advancement is currently
// allowed: every combatant that has not yet taken its turn this round must
// have an initiative value. The UI surfaces this as disabled controls rather
// than an error.
func (t *Tracker) CanProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canProgressLocked()
}

// NextTurn marks the active combatant as having taken its turn and activates
// the next combatant in order that still owes one. When nobody after the
// active combatant owes a turn, the round rolls over automatically: turn
// flags reset, the round number increments, condition durations decrement
// and expire, and the top of the order becomes active.
//
// Postcondition: Returns the attachments swept by an automatic rollover (nil
// when the turn advanced within the round) and true, or (nil, false) when
// refused because there is no active combatant or CanProgress is false.
// Refusal mutates nothing.
func (t *Tracker) NextTurn() ([]condition.Attachment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeID == "" || !t.canProgressLocked() {
		return nil, false
	}

	idx := t.indexOf(t.activeID)
	roster := cloneRoster(t.combatants)
	roster[idx].TakenTurn = true
	t.combatants = roster

	for i := idx + 1; i < len(t.combatants); i++ {
		if !t.combatants[i].TakenTurn {
			t.activeID = t.combatants[i].ID
			t.publishLocked()
			return nil, true
		}
	}

	// Everyone after the active combatant is done: roll the round over.
	swept := t.nextRoundLocked()
	t.publishLocked()
	return swept, true
}

// PreviousTurn undoes one turn advance inside the current round: the
// combatant immediately before the active one in order becomes active again
// with its turn-taken flag cleared, as is the flag of the combatant that was
// active. Refused at the first position of the round, or while CanProgress
// is false.
//
// Postcondition: Returns true when a step was undone. Refusal mutates
// nothing. Crossing a round boundary backwards is PreviousRound's job; the
// two compose lossily because condition durations never un-decrement.
func (t *Tracker) PreviousTurn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeID == "" || !t.canProgressLocked() {
		return false
	}
	idx := t.indexOf(t.activeID)
	if idx <= 0 {
		return false
	}

	roster := cloneRoster(t.combatants)
	roster[idx].TakenTurn = false
	roster[idx-1].TakenTurn = false
	t.combatants = roster
	t.activeID = roster[idx-1].ID
	t.publishLocked()
	return true
}

// NextRound advances to the next round explicitly: all turn flags clear, the
// round number increments, the top of the order becomes active, and the
// ledger decrements and sweeps condition durations.
//
// Postcondition: Returns the swept attachments and true, or (nil, false)
// when refused because CanProgress is false.
func (t *Tracker) NextRound() ([]condition.Attachment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.canProgressLocked() {
		return nil, false
	}
	swept := t.nextRoundLocked()
	t.publishLocked()
	return swept, true
}

// PreviousRound steps the round counter back by one, clearing all turn flags
// and re-activating the top of the order. Refused when already at round 1.
//
// Condition durations are not restored; the per-round decrement is a one-way
// ratchet. Going forward and back across a boundary therefore does not
// round-trip, which is deliberate.
//
// Postcondition: Returns true when the round was decremented.
func (t *Tracker) PreviousRound() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.round <= 1 {
		return false
	}
	roster := cloneRoster(t.combatants)
	for i := range roster {
		roster[i].TakenTurn = false
	}
	t.combatants = roster
	t.round--
	t.activeID = t.firstWithInitiative()
	t.publishLocked()
	return true
}

// AddCombatant instantiates a new combatant from a library actor. The
// display name gets the smallest unused instance suffix, the added-order key
// is assigned monotonically, and the tie-break key defaults to it so
// untouched ties keep insertion order. A nil init leaves the combatant
// unrolled.
//
// Postcondition: Returns the created combatant. When no combatant was
// active and the new one has initiative, it may become active per the
// initialisation rule.
func (t *Tracker) AddCombatant(baseActorID, name string, kind Kind, modifier int, init *float64) Combatant {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := Combatant{
		ID:          uuid.NewString(),
		BaseActorID: baseActorID,
		DisplayName: NextDisplayName(t.combatants, name),
		Kind:        kind,
		Modifier:    modifier,
		AddedOrder:  t.nextAdded,
		TieBreak:    t.nextAdded,
	}
	t.nextAdded++
	if init != nil {
		c = c.WithInitiative(*init)
	}

	t.combatants = SortOrder(append(cloneRoster(t.combatants), c))
	if t.activeID == "" {
		t.activeID = t.firstWithInitiative()
	}
	t.logger.Info("combatant added",
		zap.String("encounter", t.encounterID),
		zap.String("combatant", c.ID),
		zap.String("name", c.DisplayName),
		zap.Stringer("kind", kind),
	)
	t.publishLocked()
	return c.clone()
}

// RemoveCombatant removes a combatant and all its condition attachments.
// When the active combatant is removed, the top of the recomputed order
// becomes active (or nobody, if no initiative-bearing combatant remains).
//
// Postcondition: Returns the removed condition attachments, or
// ErrCombatantNotFound with nothing mutated.
func (t *Tracker) RemoveCombatant(id string) ([]condition.Attachment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOf(id)
	if idx < 0 {
		return nil, fmt.Errorf("removing combatant %q: %w", id, ErrCombatantNotFound)
	}

	roster := cloneRoster(t.combatants)
	roster = append(roster[:idx], roster[idx+1:]...)
	t.combatants = roster
	removed := t.ledger.RemoveAllFor(id)

	if t.activeID == id {
		t.activeID = t.firstWithInitiative()
	}
	t.logger.Info("combatant removed",
		zap.String("encounter", t.encounterID),
		zap.String("combatant", id),
		zap.Int("conditions_dropped", len(removed)),
	)
	t.publishLocked()
	return removed, nil
}

// SetInitiative overrides a combatant's initiative directly, bypassing the
// roller. Always permitted; triggers a re-sort and, when no combatant was
// active, active-combatant re-selection.
//
// Postcondition: Returns ErrInvalidInitiative for NaN or infinite values, or
// ErrCombatantNotFound; nothing is mutated on error.
func (t *Tracker) SetInitiative(id string, value float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("setting initiative for %q: %w", id, ErrInvalidInitiative)
	}
	idx := t.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("setting initiative for %q: %w", id, ErrCombatantNotFound)
	}

	roster := cloneRoster(t.combatants)
	roster[idx] = roster[idx].WithInitiative(value)
	t.combatants = SortOrder(roster)
	if t.activeID == "" {
		t.activeID = t.firstWithInitiative()
	}
	t.publishLocked()
	return nil
}

// RollGroup (re)rolls initiative for the selected combatants: every
// combatant for ModeAll, NPC-like ones for ModeNPCOnly, or the listed ids
// for ModeSpecific. Unselected combatants keep their initiative untouched.
//
// Postcondition: Returns the resulting snapshot. When no combatant was
// active, one is selected per the initialisation rule.
func (t *Tracker) RollGroup(mode initiative.Mode, ids []string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	selected := make(map[string]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}

	roster := cloneRoster(t.combatants)
	for i, c := range roster {
		if !rollSelected(mode, c, selected) {
			continue
		}
		roster[i] = c.WithInitiative(initiative.Roll(c.Modifier, c.NPCLike(), t.src))
	}
	t.combatants = SortOrder(roster)
	if t.activeID == "" {
		t.activeID = t.firstWithInitiative()
	}
	t.logger.Info("initiative rolled",
		zap.String("encounter", t.encounterID),
		zap.Stringer("mode", mode),
		zap.Int("selected", len(ids)),
	)
	return t.publishLocked()
}

// rollSelected reports whether a combatant falls inside the roll selection.
func rollSelected(mode initiative.Mode, c Combatant, ids map[string]bool) bool {
	switch mode {
	case initiative.ModeAll:
		return true
	case initiative.ModeNPCOnly:
		return c.NPCLike()
	case initiative.ModeSpecific:
		return ids[c.ID]
	default:
		return false
	}
}

// ResolveTie shifts a combatant one position within its exact-tie group.
// See the package-level ResolveTie for the no-op conditions.
//
// Postcondition: Returns true when the order changed.
func (t *Tracker) ResolveTie(id string, dir Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	roster, changed := ResolveTie(t.combatants, id, dir)
	if !changed {
		return false
	}
	t.combatants = SortOrder(roster)
	t.publishLocked()
	return true
}

// TiedPlayers returns the ids of combatants in an exact integer-initiative
// tie. See DetectTiedPlayers.
func (t *Tracker) TiedPlayers() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return DetectTiedPlayers(t.combatants)
}

// ApplyCondition attaches a condition to a combatant and returns the created
// attachment together with a fresh read-back of the combatant's full
// condition list, so callers always report ledger truth rather than their
// own bookkeeping.
//
// Postcondition: Returns ErrCombatantNotFound, ErrDuplicateCondition, or
// ErrInvalidDuration with nothing mutated on failure.
func (t *Tracker) ApplyCondition(combatantID, conditionID string, permanent bool, duration int) (condition.Attachment, []condition.Attachment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexOf(combatantID) < 0 {
		return condition.Attachment{}, nil, fmt.Errorf("applying condition to %q: %w", combatantID, ErrCombatantNotFound)
	}
	att, err := t.ledger.Apply(combatantID, conditionID, permanent, duration, t.round)
	if err != nil {
		return condition.Attachment{}, nil, err
	}
	t.publishLocked()
	return att, t.ledger.ConditionsFor(combatantID), nil
}

// RemoveCondition removes one attachment and returns it along with a fresh
// read-back of the affected combatant's remaining conditions.
//
// Postcondition: Returns ErrAttachmentNotFound when the id is unknown.
func (t *Tracker) RemoveCondition(attachmentID string) (condition.Attachment, []condition.Attachment, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	att, err := t.ledger.Remove(attachmentID)
	if err != nil {
		return condition.Attachment{}, nil, err
	}
	t.publishLocked()
	return att, t.ledger.ConditionsFor(att.CombatantID), nil
}

// Conditions returns the combatant's active attachments straight from the
// ledger.
func (t *Tracker) Conditions(combatantID string) []condition.Attachment {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger.ConditionsFor(combatantID)
}

// Combatants returns the roster in turn order as deep copies.
func (t *Tracker) Combatants() []Combatant {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneRoster(t.combatants)
}

// Round returns the current round number.
func (t *Tracker) Round() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.round
}

// ActiveID returns the active combatant's id, or "" when nobody is active.
func (t *Tracker) ActiveID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeID
}

func (t *Tracker) canProgressLocked() bool {
	for _, c := range t.combatants {
		if !c.TakenTurn && !c.HasInitiative() {
			return false
		}
	}
	return true
}

// nextRoundLocked performs the round transition shared by NextRound and the
// automatic rollover in NextTurn.
func (t *Tracker) nextRoundLocked() []condition.Attachment {
	roster := cloneRoster(t.combatants)
	for i := range roster {
		roster[i].TakenTurn = false
	}
	t.combatants = roster
	t.round++
	t.activeID = t.firstWithInitiative()

	swept := t.ledger.DecrementAndSweep()
	if len(swept) > 0 {
		t.logger.Info("conditions expired",
			zap.String("encounter", t.encounterID),
			zap.Int("round", t.round),
			zap.Int("count", len(swept)),
		)
	}
	return swept
}

// firstWithInitiative returns the id of the highest-ranked combatant that
// has an initiative value, or "".
func (t *Tracker) firstWithInitiative() string {
	for _, c := range t.combatants {
		if c.HasInitiative() {
			return c.ID
		}
	}
	return ""
}

func (t *Tracker) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, c := range t.combatants {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		EncounterID: t.encounterID,
		Round:       t.round,
		ActiveID:    t.activeID,
		CanProgress: t.canProgressLocked(),
		Combatants:  cloneRoster(t.combatants),
		Conditions:  t.ledger.All(),
	}
}

func (t *Tracker) publishLocked() Snapshot {
	t.last = t.pub.Publish(t.snapshotLocked())
	return t.last
}
