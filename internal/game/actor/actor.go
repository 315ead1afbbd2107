// Package actor defines the persistent roster entries that combatants are
// instantiated from. An actor is the reusable template (a party member or a
// monster stat block); a combatant is one instance of it inside an encounter.
package actor

import (
	"time"

	"github.com/cory-johannsen/tracker/internal/game/encounter"
)

// Actor is a roster entry.
type Actor struct {
	ID string
	// Name is the base display name; encounter instances derive numbered
	// names from it when the same actor joins more than once.
	Name     string
	Kind     encounter.Kind
	Modifier int

	CreatedAt time.Time
	UpdatedAt time.Time
}
