package encounter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/tracker/internal/game/encounter"
)

func TestPublisher_SubscribeReceivesPublished(t *testing.T) {
	p := encounter.NewPublisher()
	ch, cancel := p.Subscribe()
	defer cancel()

	p.Publish(encounter.Snapshot{Round: 3})
	got := <-ch
	assert.Equal(t, 3, got.Round)
	assert.Equal(t, uint64(1), got.Version)
}

func TestPublisher_SlowConsumerSeesOnlyNewest(t *testing.T) {
	p := encounter.NewPublisher()
	ch, cancel := p.Subscribe()
	defer cancel()

	// Three publishes before the consumer reads: the buffer keeps only the
	// newest snapshot; the stale ones are displaced.
	p.Publish(encounter.Snapshot{Round: 1})
	p.Publish(encounter.Snapshot{Round: 2})
	p.Publish(encounter.Snapshot{Round: 3})

	got := <-ch
	assert.Equal(t, 3, got.Round)
	assert.Equal(t, uint64(3), got.Version)
}

func TestPublisher_VersionsMonotonic(t *testing.T) {
	p := encounter.NewPublisher()
	ch, cancel := p.Subscribe()
	defer cancel()

	var last uint64
	for i := 0; i < 5; i++ {
		p.Publish(encounter.Snapshot{})
		got := <-ch
		assert.Greater(t, got.Version, last)
		last = got.Version
	}
}

func TestPublisher_CancelClosesChannel(t *testing.T) {
	p := encounter.NewPublisher()
	ch, cancel := p.Subscribe()
	require.Equal(t, 1, p.SubscriberCount())

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, p.SubscriberCount())

	// Cancelling twice is harmless.
	cancel()
}

func TestTracker_PublishesAfterEveryMutation(t *testing.T) {
	tr := newTracker(t, encounter.LoadState{Combatants: threeRolled()})
	ch, cancel := tr.Subscribe()
	defer cancel()

	baseline := tr.Snapshot().Version

	_, ok := tr.NextTurn()
	require.True(t, ok)
	got := <-ch
	assert.Greater(t, got.Version, baseline)
	assert.Equal(t, "b", got.ActiveID)
	assert.True(t, got.CanProgress)
}

func TestSnapshot_DeepCopiesRoster(t *testing.T) {
	tr := newTracker(t, encounter.LoadState{Combatants: threeRolled()})
	snap := tr.Snapshot()

	// Scribbling on the snapshot must not leak into tracker state.
	*snap.Combatants[0].Initiative = -99
	snap.Combatants[0].DisplayName = "scribbled"

	fresh := tr.Snapshot()
	assert.Equal(t, 18.0, fresh.Combatants[0].InitiativeValue())
	assert.Equal(t, "Ava", fresh.Combatants[0].DisplayName)
}
