package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/tracker/internal/game/encounter"
	"github.com/cory-johannsen/tracker/internal/storage/postgres"
	"github.com/cory-johannsen/tracker/internal/testutil"
)

func setupEncounter(t *testing.T) (*pgxpool.Pool, *postgres.EncounterRepository, *postgres.EncounterRecord) {
	t.Helper()
	pool := testutil.NewPool(t)
	repo := postgres.NewEncounterRepository(pool)
	rec, err := repo.Create(context.Background(), "Ambush at the Bridge")
	require.NoError(t, err)
	return pool, repo, rec
}

func testCombatant(name string, kind encounter.Kind, added int) encounter.Combatant {
	return encounter.Combatant{
		ID:          uuid.NewString(),
		DisplayName: name,
		Kind:        kind,
		TieBreak:    added,
		AddedOrder:  added,
	}
}

func TestEncounterRepository_CreateAndGet(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Ambush at the Bridge", rec.Name)
	assert.Equal(t, 1, rec.Round)
	assert.Empty(t, rec.ActiveCombatantID)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, 1, got.Round)
}

func TestEncounterRepository_GetNotFound(t *testing.T) {
	_, repo, _ := setupEncounter(t)
	_, err := repo.GetByID(context.Background(), "no-such-encounter")
	assert.ErrorIs(t, err, postgres.ErrEncounterNotFound)
}

func TestEncounterRepository_SaveState(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	c := testCombatant("Zara", encounter.KindPlayer, 0)
	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, c))

	require.NoError(t, repo.SaveState(ctx, rec.ID, 3, c.ID))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Round)
	assert.Equal(t, c.ID, got.ActiveCombatantID)

	// Clearing the active combatant stores NULL.
	require.NoError(t, repo.SaveState(ctx, rec.ID, 3, ""))
	got, err = repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ActiveCombatantID)

	assert.ErrorIs(t, repo.SaveState(ctx, "ghost", 1, ""), postgres.ErrEncounterNotFound)
}

func TestEncounterRepository_InsertAndListCombatants(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	zara := testCombatant("Zara", encounter.KindPlayer, 0)
	zara = zara.WithInitiative(17)
	goblin := testCombatant("Goblin", encounter.KindNPC, 1)

	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, zara))
	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, goblin))

	got, err := repo.ListCombatants(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Zara", got[0].DisplayName)
	require.True(t, got[0].HasInitiative())
	assert.Equal(t, 17.0, got[0].InitiativeValue())
	assert.Equal(t, encounter.KindPlayer, got[0].Kind)

	assert.Equal(t, "Goblin", got[1].DisplayName)
	assert.False(t, got[1].HasInitiative())
	assert.Equal(t, encounter.KindNPC, got[1].Kind)
}

func TestEncounterRepository_DuplicateDisplayName(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, testCombatant("Goblin", encounter.KindNPC, 0)))
	err := repo.InsertCombatant(ctx, rec.ID, testCombatant("Goblin", encounter.KindNPC, 1))
	assert.ErrorIs(t, err, postgres.ErrDuplicateDisplayName)

	// The same display name in a different encounter is fine.
	other, err := repo.Create(ctx, "Second Wave")
	require.NoError(t, err)
	assert.NoError(t, repo.InsertCombatant(ctx, other.ID, testCombatant("Goblin", encounter.KindNPC, 0)))
}

func TestEncounterRepository_DeleteCombatant(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	c := testCombatant("Wolf", encounter.KindNPC, 0)
	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, c))
	require.NoError(t, repo.DeleteCombatant(ctx, c.ID))

	got, err := repo.ListCombatants(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, repo.DeleteCombatant(ctx, c.ID), postgres.ErrCombatantNotFound)
}

func TestEncounterRepository_UpdateCombatants(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	a := testCombatant("Zara", encounter.KindPlayer, 0)
	b := testCombatant("Goblin", encounter.KindNPC, 1)
	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, a))
	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, b))

	a = a.WithInitiative(15)
	a.TakenTurn = true
	b = b.WithInitiative(12.8421)
	b.TieBreak = 5

	require.NoError(t, repo.UpdateCombatants(ctx, rec.ID, []encounter.Combatant{a, b}))

	got, err := repo.ListCombatants(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 15.0, got[0].InitiativeValue())
	assert.True(t, got[0].TakenTurn)
	assert.Equal(t, 12.8421, got[1].InitiativeValue())
	assert.Equal(t, 5, got[1].TieBreak)
}

func TestEncounterRepository_UpdateCombatants_InsertsMissingRows(t *testing.T) {
	_, repo, rec := setupEncounter(t)
	ctx := context.Background()

	a := testCombatant("Zara", encounter.KindPlayer, 0)
	require.NoError(t, repo.InsertCombatant(ctx, rec.ID, a))

	// A combatant whose insert was lost still lands through the bulk save.
	b := testCombatant("Wolf", encounter.KindNPC, 1)
	b = b.WithInitiative(9)

	require.NoError(t, repo.UpdateCombatants(ctx, rec.ID, []encounter.Combatant{a, b}))

	got, err := repo.ListCombatants(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Wolf", got[1].DisplayName)
	assert.Equal(t, encounter.KindNPC, got[1].Kind)
	assert.Equal(t, 9.0, got[1].InitiativeValue())
}
