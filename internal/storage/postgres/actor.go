package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tracker/internal/game/actor"
	"github.com/cory-johannsen/tracker/internal/game/encounter"
)

// ErrActorNotFound is returned when an actor lookup yields no results.
var ErrActorNotFound = errors.New("actor not found")

// ErrActorNameTaken is returned when creating an actor with a name already in use.
var ErrActorNameTaken = errors.New("actor name already taken")

// ActorRepository provides actor library persistence operations.
type ActorRepository struct {
	db *pgxpool.Pool
}

// NewActorRepository creates an ActorRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewActorRepository(db *pgxpool.Pool) *ActorRepository {
	return &ActorRepository{db: db}
}

// Create inserts a new actor and returns it with ID and timestamps set.
//
// Precondition: a.Name must be non-empty.
// Postcondition: Returns the created actor with ID set, or ErrActorNameTaken on duplicate.
func (r *ActorRepository) Create(ctx context.Context, a *actor.Actor) (*actor.Actor, error) {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	var out actor.Actor
	var kind string
	err := r.db.QueryRow(ctx, `
		INSERT INTO actors (id, name, kind, modifier)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, kind, modifier, created_at, updated_at`,
		id, a.Name, a.Kind.String(), a.Modifier,
	).Scan(&out.ID, &out.Name, &kind, &out.Modifier, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrActorNameTaken
		}
		return nil, fmt.Errorf("inserting actor: %w", err)
	}
	if out.Kind, err = encounter.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("reading actor kind: %w", err)
	}
	return &out, nil
}

// GetByID retrieves an actor by its primary key.
//
// Precondition: id must be non-empty.
// Postcondition: Returns the Actor or ErrActorNotFound.
func (r *ActorRepository) GetByID(ctx context.Context, id string) (*actor.Actor, error) {
	var a actor.Actor
	var kind string
	err := r.db.QueryRow(ctx, `
		SELECT id, name, kind, modifier, created_at, updated_at
		FROM actors WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.Name, &kind, &a.Modifier, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrActorNotFound
		}
		return nil, fmt.Errorf("querying actor: %w", err)
	}
	if a.Kind, err = encounter.ParseKind(kind); err != nil {
		return nil, fmt.Errorf("reading actor kind: %w", err)
	}
	return &a, nil
}

// Exists reports whether an actor row with the given id is present.
//
// Precondition: id must be non-empty.
func (r *ActorRepository) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM actors WHERE id = $1)`, id,
	).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("checking actor existence: %w", err)
	}
	return found, nil
}

// List returns all actors ordered by name.
//
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *ActorRepository) List(ctx context.Context) ([]*actor.Actor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, kind, modifier, created_at, updated_at
		FROM actors ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing actors: %w", err)
	}
	defer rows.Close()

	actors := make([]*actor.Actor, 0)
	for rows.Next() {
		var a actor.Actor
		var kind string
		if err := rows.Scan(&a.ID, &a.Name, &kind, &a.Modifier, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning actor row: %w", err)
		}
		if a.Kind, err = encounter.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("reading actor kind: %w", err)
		}
		actors = append(actors, &a)
	}
	return actors, rows.Err()
}

// Delete removes an actor from the library. Combatant rows keep their copied
// stats but their base_actor_id stops resolving; the service drops such
// combatants at load time.
//
// Precondition: id must be non-empty.
// Postcondition: Returns nil on success, ErrActorNotFound if no row deleted.
func (r *ActorRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM actors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting actor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrActorNotFound
	}
	return nil
}
