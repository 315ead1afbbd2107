// Package service orchestrates the combat tracker against persistence,
// content, and scripting. The in-memory tracker is the source of truth;
// database writes trail it in the background and failures degrade to logged
// warnings. The one synchronous exception is adding a combatant, where a
// display-name collision must reach the caller.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tracker/internal/game/actor"
	"github.com/cory-johannsen/tracker/internal/game/condition"
	"github.com/cory-johannsen/tracker/internal/game/dice"
	"github.com/cory-johannsen/tracker/internal/game/encounter"
	"github.com/cory-johannsen/tracker/internal/game/initiative"
	"github.com/cory-johannsen/tracker/internal/scripting"
	"github.com/cory-johannsen/tracker/internal/storage/postgres"
)

// ErrNoEncounterLoaded is returned by commands issued before Load succeeds.
var ErrNoEncounterLoaded = errors.New("no encounter loaded")

// ErrUnknownCondition is returned when a condition id has no catalog entry.
var ErrUnknownCondition = errors.New("unknown condition")

// ActorStore is the actor-library surface the service needs.
type ActorStore interface {
	GetByID(ctx context.Context, id string) (*actor.Actor, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// EncounterStore is the encounter persistence surface the service needs.
type EncounterStore interface {
	GetByID(ctx context.Context, id string) (*postgres.EncounterRecord, error)
	SaveState(ctx context.Context, id string, round int, activeCombatantID string) error
	ListCombatants(ctx context.Context, encounterID string) ([]encounter.Combatant, error)
	InsertCombatant(ctx context.Context, encounterID string, c encounter.Combatant) error
	DeleteCombatant(ctx context.Context, combatantID string) error
	UpdateCombatants(ctx context.Context, encounterID string, cs []encounter.Combatant) error
}

// AttachmentStore is the condition persistence surface the service needs.
type AttachmentStore interface {
	Insert(ctx context.Context, a condition.Attachment) error
	Delete(ctx context.Context, id string) error
	ListByEncounter(ctx context.Context, encounterID string) ([]condition.Attachment, error)
	Sync(ctx context.Context, combatantIDs []string, current []condition.Attachment) error
}

// EncounterService drives one loaded encounter. It owns the single-writer
// discipline: all mutations flow through it, persistence trails behind on
// background goroutines bounded by saveTimeout.
type EncounterService struct {
	encounters  EncounterStore
	actors      ActorStore
	attachments AttachmentStore
	catalog     *condition.Catalog
	scripts     *scripting.Manager
	src         dice.Source
	logger      *zap.Logger
	saveTimeout time.Duration

	mu      sync.Mutex
	tracker *encounter.Tracker

	wg sync.WaitGroup
}

// NewEncounterService creates a service with no encounter loaded.
//
// Precondition: stores, catalog, src, and logger must be non-nil. scripts may
// be nil; hooks then become no-ops.
func NewEncounterService(
	encounters EncounterStore,
	actors ActorStore,
	attachments AttachmentStore,
	catalog *condition.Catalog,
	scripts *scripting.Manager,
	src dice.Source,
	logger *zap.Logger,
	saveTimeout time.Duration,
) *EncounterService {
	s := &EncounterService{
		encounters:  encounters,
		actors:      actors,
		attachments: attachments,
		catalog:     catalog,
		scripts:     scripts,
		src:         src,
		logger:      logger,
		saveTimeout: saveTimeout,
	}
	if scripts != nil {
		scripts.GetCombatant = s.scriptCombatant
		scripts.ActiveRound = s.scriptRound
	}
	return s
}

// Load reads the encounter, its combatants, and their condition attachments,
// and initialises the tracker. Combatants whose base actor no longer resolves
// are logged and dropped; their attachments are dropped with them.
//
// Precondition: encounterID must reference an existing encounter.
// Postcondition: Tracker() returns a live tracker, or an error and no change.
func (s *EncounterService) Load(ctx context.Context, encounterID string) error {
	rec, err := s.encounters.GetByID(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("loading encounter %q: %w", encounterID, err)
	}

	combatants, err := s.encounters.ListCombatants(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("loading combatants for %q: %w", encounterID, err)
	}

	kept := make([]encounter.Combatant, 0, len(combatants))
	keptIDs := make(map[string]bool, len(combatants))
	for _, c := range combatants {
		if c.BaseActorID != "" {
			found, err := s.actors.Exists(ctx, c.BaseActorID)
			if err != nil {
				return fmt.Errorf("resolving actor %q: %w", c.BaseActorID, err)
			}
			if !found {
				s.logger.Warn("dropping combatant with unresolvable actor",
					zap.String("encounter", encounterID),
					zap.String("combatant", c.ID),
					zap.String("name", c.DisplayName),
					zap.String("actor", c.BaseActorID),
				)
				continue
			}
		}
		kept = append(kept, c)
		keptIDs[c.ID] = true
	}

	attachments, err := s.attachments.ListByEncounter(ctx, encounterID)
	if err != nil {
		return fmt.Errorf("loading attachments for %q: %w", encounterID, err)
	}
	keptAtts := make([]condition.Attachment, 0, len(attachments))
	for _, a := range attachments {
		if keptIDs[a.CombatantID] {
			keptAtts = append(keptAtts, a)
		}
	}

	tracker, err := encounter.NewTracker(encounter.LoadState{
		EncounterID: rec.ID,
		Round:       rec.Round,
		ActiveID:    rec.ActiveCombatantID,
		Combatants:  kept,
		Attachments: keptAtts,
	}, s.src, s.logger)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tracker = tracker
	s.mu.Unlock()

	s.logger.Info("encounter loaded",
		zap.String("encounter", rec.ID),
		zap.String("name", rec.Name),
		zap.Int("round", rec.Round),
		zap.Int("combatants", len(kept)),
		zap.Int("dropped", len(combatants)-len(kept)),
	)
	return nil
}

// Tracker returns the loaded tracker, or nil before Load.
func (s *EncounterService) Tracker() *encounter.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

// Roll rolls initiative for the selected combatants and persists the roster.
func (s *EncounterService) Roll(mode initiative.Mode, ids []string) (encounter.Snapshot, error) {
	t := s.Tracker()
	if t == nil {
		return encounter.Snapshot{}, ErrNoEncounterLoaded
	}
	snap := t.RollGroup(mode, ids)
	s.persistRoster(t)
	return snap, nil
}

// NextTurn advances one turn. Attachments swept by an automatic round
// rollover fire their on_expire hooks.
//
// Postcondition: Returns false when advancement is refused.
func (s *EncounterService) NextTurn() (bool, error) {
	t := s.Tracker()
	if t == nil {
		return false, ErrNoEncounterLoaded
	}
	swept, ok := t.NextTurn()
	if !ok {
		return false, nil
	}
	s.fireExpiries(t, swept)
	s.persistRoster(t)
	if len(swept) > 0 {
		s.persistAttachmentSync(t)
	}
	return true, nil
}

// PreviousTurn undoes one turn advance inside the current round.
func (s *EncounterService) PreviousTurn() (bool, error) {
	t := s.Tracker()
	if t == nil {
		return false, ErrNoEncounterLoaded
	}
	if !t.PreviousTurn() {
		return false, nil
	}
	s.persistRoster(t)
	return true, nil
}

// NextRound advances to the next round. Swept attachments fire their
// on_expire hooks.
func (s *EncounterService) NextRound() (bool, error) {
	t := s.Tracker()
	if t == nil {
		return false, ErrNoEncounterLoaded
	}
	swept, ok := t.NextRound()
	if !ok {
		return false, nil
	}
	s.fireExpiries(t, swept)
	s.persistRoster(t)
	if len(swept) > 0 {
		s.persistAttachmentSync(t)
	}
	return true, nil
}

// PreviousRound steps the round counter back. Condition durations are not
// restored.
func (s *EncounterService) PreviousRound() (bool, error) {
	t := s.Tracker()
	if t == nil {
		return false, ErrNoEncounterLoaded
	}
	if !t.PreviousRound() {
		return false, nil
	}
	s.persistRoster(t)
	return true, nil
}

// AddFromActor instantiates a combatant from a library actor, copying its
// name, kind, and modifier.
//
// Postcondition: Returns the created combatant, the actor store's error, or
// ErrDuplicateDisplayName when the store already holds the chosen name.
func (s *EncounterService) AddFromActor(ctx context.Context, actorID string) (encounter.Combatant, error) {
	t := s.Tracker()
	if t == nil {
		return encounter.Combatant{}, ErrNoEncounterLoaded
	}
	a, err := s.actors.GetByID(ctx, actorID)
	if err != nil {
		return encounter.Combatant{}, fmt.Errorf("adding combatant from actor %q: %w", actorID, err)
	}
	return s.addAndPersist(ctx, t, a.ID, a.Name, a.Kind, a.Modifier)
}

// AddAdHoc instantiates a combatant that has no library actor behind it.
//
// Precondition: name must be non-empty.
func (s *EncounterService) AddAdHoc(ctx context.Context, name string, kind encounter.Kind, modifier int) (encounter.Combatant, error) {
	t := s.Tracker()
	if t == nil {
		return encounter.Combatant{}, ErrNoEncounterLoaded
	}
	return s.addAndPersist(ctx, t, "", name, kind, modifier)
}

// addAndPersist adds the combatant and inserts its row synchronously. Add is
// a checkpoint command, not a turn mutator, so it may block on the store: a
// uniqueness violation means another writer claimed the display name since
// this session loaded, and the caller must see that rather than a background
// warning. The in-memory add is reverted on that error. Any other insert
// failure keeps the combatant and degrades to a warning like every other
// trailing save.
func (s *EncounterService) addAndPersist(ctx context.Context, t *encounter.Tracker, baseActorID, name string, kind encounter.Kind, modifier int) (encounter.Combatant, error) {
	c := t.AddCombatant(baseActorID, name, kind, modifier, nil)

	insertCtx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()
	if err := s.encounters.InsertCombatant(insertCtx, t.EncounterID(), c); err != nil {
		if errors.Is(err, postgres.ErrDuplicateDisplayName) {
			if _, rmErr := t.RemoveCombatant(c.ID); rmErr != nil {
				s.logger.Warn("reverting combatant add failed",
					zap.String("combatant", c.ID),
					zap.Error(rmErr),
				)
			}
			return encounter.Combatant{}, fmt.Errorf("adding combatant %q: %w", c.DisplayName, err)
		}
		s.logger.Warn("combatant insert failed",
			zap.String("combatant", c.ID),
			zap.String("name", c.DisplayName),
			zap.Error(err),
		)
	}
	return c, nil
}

// RemoveCombatant removes a combatant and its attachments.
func (s *EncounterService) RemoveCombatant(id string) error {
	t := s.Tracker()
	if t == nil {
		return ErrNoEncounterLoaded
	}
	if _, err := t.RemoveCombatant(id); err != nil {
		return err
	}
	s.persist("delete combatant", func(ctx context.Context) error {
		// Attachments cascade with the combatant row.
		return s.encounters.DeleteCombatant(ctx, id)
	})
	s.persistRoster(t)
	return nil
}

// SetInitiative overrides one combatant's initiative directly.
func (s *EncounterService) SetInitiative(id string, value float64) error {
	t := s.Tracker()
	if t == nil {
		return ErrNoEncounterLoaded
	}
	if err := t.SetInitiative(id, value); err != nil {
		return err
	}
	s.persistRoster(t)
	return nil
}

// ResolveTie shifts a combatant one position within its exact-tie group.
func (s *EncounterService) ResolveTie(id string, dir encounter.Direction) (bool, error) {
	t := s.Tracker()
	if t == nil {
		return false, ErrNoEncounterLoaded
	}
	if !t.ResolveTie(id, dir) {
		return false, nil
	}
	s.persistRoster(t)
	return true, nil
}

// ApplyCondition validates the condition against the catalog, attaches it,
// fires the on_apply hook, and persists the attachment. The returned list is
// a fresh ledger read-back.
func (s *EncounterService) ApplyCondition(combatantID, conditionID string, permanent bool, duration int) (condition.Attachment, []condition.Attachment, error) {
	t := s.Tracker()
	if t == nil {
		return condition.Attachment{}, nil, ErrNoEncounterLoaded
	}
	def, ok := s.catalog.Get(conditionID)
	if !ok {
		return condition.Attachment{}, nil, fmt.Errorf("applying condition %q: %w", conditionID, ErrUnknownCondition)
	}
	att, current, err := t.ApplyCondition(combatantID, conditionID, permanent, duration)
	if err != nil {
		return condition.Attachment{}, nil, err
	}
	s.fireHook(t, def.OnApply, att)
	s.persist("insert attachment", func(ctx context.Context) error {
		return s.attachments.Insert(ctx, att)
	})
	return att, current, nil
}

// RemoveCondition detaches one attachment, fires the on_remove hook, and
// persists the removal. The returned list is a fresh ledger read-back for the
// affected combatant.
func (s *EncounterService) RemoveCondition(attachmentID string) (condition.Attachment, []condition.Attachment, error) {
	t := s.Tracker()
	if t == nil {
		return condition.Attachment{}, nil, ErrNoEncounterLoaded
	}
	att, current, err := t.RemoveCondition(attachmentID)
	if err != nil {
		return condition.Attachment{}, nil, err
	}
	if def, ok := s.catalog.Get(att.ConditionID); ok {
		s.fireHook(t, def.OnRemove, att)
	}
	s.persist("delete attachment", func(ctx context.Context) error {
		return s.attachments.Delete(ctx, att.ID)
	})
	return att, current, nil
}

// SaveNow performs a synchronous full save of the loaded encounter: header,
// combatant rows, and attachment rows.
func (s *EncounterService) SaveNow(ctx context.Context) error {
	t := s.Tracker()
	if t == nil {
		return ErrNoEncounterLoaded
	}
	snap := t.Snapshot()
	if err := s.encounters.UpdateCombatants(ctx, snap.EncounterID, snap.Combatants); err != nil {
		return fmt.Errorf("saving combatants: %w", err)
	}
	if err := s.encounters.SaveState(ctx, snap.EncounterID, snap.Round, snap.ActiveID); err != nil {
		return fmt.Errorf("saving encounter state: %w", err)
	}
	ids := make([]string, 0, len(snap.Combatants))
	for _, c := range snap.Combatants {
		ids = append(ids, c.ID)
	}
	var current []condition.Attachment
	for _, atts := range snap.Conditions {
		current = append(current, atts...)
	}
	if err := s.attachments.Sync(ctx, ids, current); err != nil {
		return fmt.Errorf("saving attachments: %w", err)
	}
	return nil
}

// Close waits for in-flight background saves to finish.
func (s *EncounterService) Close() {
	s.wg.Wait()
}

// persist runs a persistence operation on a background goroutine bounded by
// saveTimeout. Failures are logged warnings; the in-memory state stands.
func (s *EncounterService) persist(op string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.logger.Warn("background save failed",
				zap.String("op", op),
				zap.Error(err),
			)
		}
	}()
}

// persistRoster writes the current roster, round, and active pointer.
func (s *EncounterService) persistRoster(t *encounter.Tracker) {
	snap := t.Snapshot()
	s.persist("save roster", func(ctx context.Context) error {
		if err := s.encounters.UpdateCombatants(ctx, snap.EncounterID, snap.Combatants); err != nil {
			return err
		}
		return s.encounters.SaveState(ctx, snap.EncounterID, snap.Round, snap.ActiveID)
	})
}

// persistAttachmentSync replaces the attachment rows with the ledger's
// current view after a round transition swept expirations.
func (s *EncounterService) persistAttachmentSync(t *encounter.Tracker) {
	snap := t.Snapshot()
	ids := make([]string, 0, len(snap.Combatants))
	for _, c := range snap.Combatants {
		ids = append(ids, c.ID)
	}
	var current []condition.Attachment
	for _, atts := range snap.Conditions {
		current = append(current, atts...)
	}
	s.persist("sync attachments", func(ctx context.Context) error {
		return s.attachments.Sync(ctx, ids, current)
	})
}

// fireExpiries runs the on_expire hook for every swept attachment.
func (s *EncounterService) fireExpiries(t *encounter.Tracker, swept []condition.Attachment) {
	for _, att := range swept {
		if def, ok := s.catalog.Get(att.ConditionID); ok {
			s.fireHook(t, def.OnExpire, att)
		}
	}
}

// fireHook dispatches a named Lua hook with the combatant's display name and
// the condition name. Missing hooks and script errors are silent no-ops at
// this level; the manager logs runtime failures.
func (s *EncounterService) fireHook(t *encounter.Tracker, hook string, att condition.Attachment) {
	if s.scripts == nil || hook == "" {
		return
	}
	name := att.CombatantID
	for _, c := range t.Combatants() {
		if c.ID == att.CombatantID {
			name = c.DisplayName
			break
		}
	}
	condName := att.ConditionID
	if def, ok := s.catalog.Get(att.ConditionID); ok && def.Name != "" {
		condName = def.Name
	}
	if _, err := s.scripts.CallHook(hook, lua.LString(name), lua.LString(condName)); err != nil {
		s.logger.Warn("condition hook failed",
			zap.String("hook", hook),
			zap.Error(err),
		)
	}
}

// scriptCombatant backs the engine.combatant Lua module.
func (s *EncounterService) scriptCombatant(id string) *scripting.CombatantInfo {
	t := s.Tracker()
	if t == nil {
		return nil
	}
	for _, c := range t.Combatants() {
		if c.ID != id && c.DisplayName != id {
			continue
		}
		info := &scripting.CombatantInfo{
			ID:         c.ID,
			Name:       c.DisplayName,
			NPC:        c.NPCLike(),
			Initiative: c.InitiativeValue(),
		}
		for _, a := range t.Conditions(c.ID) {
			info.Conditions = append(info.Conditions, a.ConditionID)
		}
		return info
	}
	return nil
}

// scriptRound backs the engine.round Lua module.
func (s *EncounterService) scriptRound() int {
	t := s.Tracker()
	if t == nil {
		return 0
	}
	return t.Round()
}
