package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/tracker/internal/game/actor"
	"github.com/cory-johannsen/tracker/internal/game/encounter"
	"github.com/cory-johannsen/tracker/internal/storage/postgres"
	"github.com/cory-johannsen/tracker/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestActorRepository_CreateAndGet(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewActorRepository(pool)
	ctx := context.Background()

	name := uniqueName("Zara")
	created, err := repo.Create(ctx, &actor.Actor{
		Name:     name,
		Kind:     encounter.KindPlayer,
		Modifier: 3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, name, created.Name)
	assert.Equal(t, encounter.KindPlayer, created.Kind)
	assert.Equal(t, 3, created.Modifier)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, name, got.Name)
}

func TestActorRepository_DuplicateName(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewActorRepository(pool)
	ctx := context.Background()

	name := uniqueName("Goblin")
	_, err := repo.Create(ctx, &actor.Actor{Name: name, Kind: encounter.KindNPC})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &actor.Actor{Name: name, Kind: encounter.KindNPC})
	assert.ErrorIs(t, err, postgres.ErrActorNameTaken)
}

func TestActorRepository_GetNotFound(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewActorRepository(pool)

	_, err := repo.GetByID(context.Background(), "no-such-actor")
	assert.ErrorIs(t, err, postgres.ErrActorNotFound)
}

func TestActorRepository_Exists(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewActorRepository(pool)
	ctx := context.Background()

	created, err := repo.Create(ctx, &actor.Actor{Name: uniqueName("Wolf"), Kind: encounter.KindNPC})
	require.NoError(t, err)

	found, err := repo.Exists(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = repo.Exists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestActorRepository_ListOrderedByName(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewActorRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, &actor.Actor{Name: "bbb_orc", Kind: encounter.KindNPC})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &actor.Actor{Name: "aaa_elf", Kind: encounter.KindPlayer})
	require.NoError(t, err)

	actors, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, actors, 2)
	assert.Equal(t, "aaa_elf", actors[0].Name)
	assert.Equal(t, "bbb_orc", actors[1].Name)
}

func TestActorRepository_Delete(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewActorRepository(pool)
	ctx := context.Background()

	created, err := repo.Create(ctx, &actor.Actor{Name: uniqueName("Bandit"), Kind: encounter.KindNPC})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, created.ID))
	_, err = repo.GetByID(ctx, created.ID)
	assert.ErrorIs(t, err, postgres.ErrActorNotFound)

	assert.ErrorIs(t, repo.Delete(ctx, created.ID), postgres.ErrActorNotFound)
}
