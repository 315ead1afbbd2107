package console_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/tracker/internal/frontend/console"
	"github.com/cory-johannsen/tracker/internal/game/actor"
	"github.com/cory-johannsen/tracker/internal/game/condition"
	"github.com/cory-johannsen/tracker/internal/game/encounter"
	"github.com/cory-johannsen/tracker/internal/service"
	"github.com/cory-johannsen/tracker/internal/storage/postgres"
)

type seqSrc struct {
	mu sync.Mutex
	n  int
}

// Intn cycles 0..n-1 deterministically.
func (s *seqSrc) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n % n
}

// memStore is a minimal in-memory store backing a console session.
type memStore struct {
	mu          sync.Mutex
	record      *postgres.EncounterRecord
	combatants  []encounter.Combatant
	attachments map[string]condition.Attachment
	actors      map[string]*actor.Actor
}

func newMemStore() *memStore {
	return &memStore{
		record:      &postgres.EncounterRecord{ID: "enc1", Name: "Skirmish", Round: 1},
		attachments: make(map[string]condition.Attachment),
		actors:      make(map[string]*actor.Actor),
	}
}

func (m *memStore) GetByID(_ context.Context, id string) (*postgres.EncounterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != m.record.ID {
		return nil, postgres.ErrEncounterNotFound
	}
	cp := *m.record
	return &cp, nil
}

func (m *memStore) SaveState(_ context.Context, _ string, round int, activeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.Round = round
	m.record.ActiveCombatantID = activeID
	return nil
}

func (m *memStore) ListCombatants(_ context.Context, _ string) ([]encounter.Combatant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]encounter.Combatant(nil), m.combatants...), nil
}

func (m *memStore) InsertCombatant(_ context.Context, _ string, c encounter.Combatant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.combatants {
		if existing.DisplayName == c.DisplayName {
			return postgres.ErrDuplicateDisplayName
		}
	}
	m.combatants = append(m.combatants, c)
	return nil
}

func (m *memStore) DeleteCombatant(_ context.Context, combatantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.combatants {
		if c.ID == combatantID {
			m.combatants = append(m.combatants[:i], m.combatants[i+1:]...)
			return nil
		}
	}
	return postgres.ErrCombatantNotFound
}

func (m *memStore) UpdateCombatants(_ context.Context, _ string, cs []encounter.Combatant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	have := make(map[string]int, len(m.combatants))
	for i, c := range m.combatants {
		have[c.ID] = i
	}
	for _, c := range cs {
		if i, ok := have[c.ID]; ok {
			m.combatants[i] = c
		} else {
			m.combatants = append(m.combatants, c)
		}
	}
	return nil
}

func (m *memStore) GetActorByID(_ context.Context, id string) (*actor.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actors[id]
	if !ok {
		return nil, postgres.ErrActorNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.actors[id]
	return ok, nil
}

func (m *memStore) List(_ context.Context) ([]*actor.Actor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*actor.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) Insert(_ context.Context, a condition.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachments[a.ID] = a
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attachments, id)
	return nil
}

func (m *memStore) ListByEncounter(_ context.Context, _ string) ([]condition.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []condition.Attachment
	for _, a := range m.attachments {
		out = append(out, a)
	}
	return out, nil
}

func (m *memStore) Sync(_ context.Context, combatantIDs []string, current []condition.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clearIDs := make(map[string]bool, len(combatantIDs))
	for _, id := range combatantIDs {
		clearIDs[id] = true
	}
	for id, a := range m.attachments {
		if clearIDs[a.CombatantID] {
			delete(m.attachments, id)
		}
	}
	for _, a := range current {
		m.attachments[a.ID] = a
	}
	return nil
}

type memActorStore struct{ *memStore }

func (m memActorStore) GetByID(ctx context.Context, id string) (*actor.Actor, error) {
	return m.memStore.GetActorByID(ctx, id)
}

func sessionCatalog() *condition.Catalog {
	cat := condition.NewCatalog()
	cat.Register(&condition.Definition{ID: "poisoned", Name: "Poisoned"})
	cat.Register(&condition.Definition{ID: "prone", Name: "Prone"})
	return cat
}

// runSession feeds the script to a console session over a seeded encounter
// and returns the output.
func runSession(t *testing.T, store *memStore, script string) string {
	t.Helper()
	cat := sessionCatalog()
	svc := service.NewEncounterService(
		store, memActorStore{store}, store,
		cat, nil, &seqSrc{}, zap.NewNop(), 2*time.Second,
	)
	require.NoError(t, svc.Load(context.Background(), "enc1"))

	out := &bytes.Buffer{}
	c := console.New(svc, store, cat, strings.NewReader(script), out, zap.NewNop())
	require.NoError(t, c.Start())
	return out.String()
}

func seedSession(store *memStore) {
	store.actors["act1"] = &actor.Actor{ID: "act1", Name: "Goblin", Kind: encounter.KindNPC, Modifier: 1}
	store.combatants = []encounter.Combatant{
		{ID: "cbt1", DisplayName: "Zara", Kind: encounter.KindPlayer, Modifier: 2, AddedOrder: 0, TieBreak: 0},
		{ID: "cbt2", DisplayName: "Goblin", Kind: encounter.KindNPC, BaseActorID: "act1", Modifier: 1, AddedOrder: 1, TieBreak: 1},
	}
}

func TestConsole_RollNextQuit(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "roll all\nnext\nquit\n")
	assert.Contains(t, out, "Round 1")
	assert.Contains(t, out, "saved")

	// The session's final save persisted rolled initiative and turn state.
	for _, c := range store.combatants {
		assert.True(t, c.HasInitiative(), "%s should have rolled", c.DisplayName)
	}
}

func TestConsole_BlockedAdvanceExplains(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "next\nquit\n")
	assert.Contains(t, out, "cannot advance")
}

func TestConsole_CondAddListRemove(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, strings.Join([]string{
		"roll all",
		"cond add Goblin poisoned 2",
		"cond Goblin",
		"cond remove Goblin poisoned",
		"cond Goblin",
		"quit",
	}, "\n")+"\n")

	assert.Contains(t, out, "Poisoned")
	assert.Contains(t, out, "2 round(s) left")
	assert.Contains(t, out, "Goblin has no conditions")
}

func TestConsole_CondUnknownCombatant(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "cond add Dragon poisoned 2\nquit\n")
	assert.Contains(t, out, `no combatant named "Dragon"`)
}

func TestConsole_AddActorInstanceNaming(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "add actor Goblin\nadd actor Goblin\nquit\n")
	assert.Contains(t, out, "added Goblin 2")
	assert.Contains(t, out, "added Goblin 3")
}

func TestConsole_AddAdHocWithModifier(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "add Mysterious Stranger npc 3\nquit\n")
	assert.Contains(t, out, "added Mysterious Stranger")

	found := false
	for _, c := range store.combatants {
		if c.DisplayName == "Mysterious Stranger" {
			found = true
			assert.Equal(t, 3, c.Modifier)
			assert.Equal(t, encounter.KindNPC, c.Kind)
		}
	}
	assert.True(t, found)
}

func TestConsole_RemoveCombatant(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "remove Goblin\nquit\n")
	assert.Contains(t, out, "removed Goblin")
	for _, c := range store.combatants {
		assert.NotEqual(t, "Goblin", c.DisplayName)
	}
}

func TestConsole_InitOverride(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "init Zara 21\norder\nquit\n")
	assert.Contains(t, out, "21")
	assert.Contains(t, out, "-> [ ] Zara")
}

func TestConsole_RoundBackAtFirstRound(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "round back\nquit\n")
	assert.Contains(t, out, "already at round 1")
}

func TestConsole_UnknownCommand(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "flee\nquit\n")
	assert.Contains(t, out, `unknown command "flee"`)
}

func TestConsole_HelpListsCommands(t *testing.T) {
	store := newMemStore()
	seedSession(store)

	out := runSession(t, store, "help\nquit\n")
	assert.Contains(t, out, "roll [all|npc|<name>]")
	assert.Contains(t, out, "tie <name> up|down")
}

// syncBuffer guards a bytes.Buffer for use across goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestConsole_StopUnblocksAndSaves(t *testing.T) {
	store := newMemStore()
	seedSession(store)
	cat := sessionCatalog()
	svc := service.NewEncounterService(
		store, memActorStore{store}, store,
		cat, nil, &seqSrc{}, zap.NewNop(), 2*time.Second,
	)
	require.NoError(t, svc.Load(context.Background(), "enc1"))

	pr, pw := io.Pipe()
	out := &syncBuffer{}
	c := console.New(svc, store, cat, pr, out, zap.NewNop())

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start()
	}()

	_, err := io.WriteString(pw, "roll all\n")
	require.NoError(t, err)

	// Wait until the session has processed the roll before stopping it.
	deadline := time.After(2 * time.Second)
	for {
		if svc.Tracker().Combatants()[0].HasInitiative() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("roll was not processed in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	// Stop stands in for SIGINT: it must unblock the pending read and run
	// the final save even though no quit command ever arrives.
	c.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	assert.Contains(t, out.String(), "saved")
	store.mu.Lock()
	defer store.mu.Unlock()
	for _, cb := range store.combatants {
		assert.True(t, cb.HasInitiative(), "%s persisted by the final save", cb.DisplayName)
	}
}
