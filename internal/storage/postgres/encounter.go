package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tracker/internal/game/encounter"
)

// ErrEncounterNotFound is returned when an encounter lookup yields no results.
var ErrEncounterNotFound = errors.New("encounter not found")

// ErrCombatantNotFound is returned when a combatant row lookup yields no results.
var ErrCombatantNotFound = errors.New("combatant not found")

// ErrDuplicateDisplayName is returned when inserting a combatant whose display
// name is already held within the same encounter.
var ErrDuplicateDisplayName = errors.New("display name already taken in encounter")

// EncounterRecord is the persisted header row for an encounter.
type EncounterRecord struct {
	ID    string
	Name  string
	Round int
	// ActiveCombatantID is empty when no combatant holds the turn.
	ActiveCombatantID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EncounterRepository provides encounter and combatant persistence operations.
type EncounterRepository struct {
	db *pgxpool.Pool
}

// NewEncounterRepository creates an EncounterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewEncounterRepository(db *pgxpool.Pool) *EncounterRepository {
	return &EncounterRepository{db: db}
}

// Create inserts a new encounter starting at round 1 with no active combatant.
//
// Precondition: name must be non-empty.
// Postcondition: Returns the created record with ID and timestamps set.
func (r *EncounterRepository) Create(ctx context.Context, name string) (*EncounterRecord, error) {
	var rec EncounterRecord
	var active *string
	err := r.db.QueryRow(ctx, `
		INSERT INTO encounters (id, name, round)
		VALUES ($1, $2, 1)
		RETURNING id, name, round, active_combatant_id, created_at, updated_at`,
		uuid.NewString(), name,
	).Scan(&rec.ID, &rec.Name, &rec.Round, &active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting encounter: %w", err)
	}
	if active != nil {
		rec.ActiveCombatantID = *active
	}
	return &rec, nil
}

// GetByID retrieves an encounter header by its primary key.
//
// Precondition: id must be non-empty.
// Postcondition: Returns the EncounterRecord or ErrEncounterNotFound.
func (r *EncounterRepository) GetByID(ctx context.Context, id string) (*EncounterRecord, error) {
	var rec EncounterRecord
	var active *string
	err := r.db.QueryRow(ctx, `
		SELECT id, name, round, active_combatant_id, created_at, updated_at
		FROM encounters WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.Name, &rec.Round, &active, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEncounterNotFound
		}
		return nil, fmt.Errorf("querying encounter: %w", err)
	}
	if active != nil {
		rec.ActiveCombatantID = *active
	}
	return &rec, nil
}

// List returns all encounter headers ordered by creation time.
func (r *EncounterRepository) List(ctx context.Context) ([]*EncounterRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, round, active_combatant_id, created_at, updated_at
		FROM encounters ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing encounters: %w", err)
	}
	defer rows.Close()

	recs := make([]*EncounterRecord, 0)
	for rows.Next() {
		var rec EncounterRecord
		var active *string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Round, &active, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning encounter row: %w", err)
		}
		if active != nil {
			rec.ActiveCombatantID = *active
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// SaveState persists the round counter and active combatant after a state change.
//
// Precondition: id must be non-empty; round must be >= 1.
// Postcondition: Returns nil on success, ErrEncounterNotFound if no row updated.
func (r *EncounterRepository) SaveState(ctx context.Context, id string, round int, activeCombatantID string) error {
	var active *string
	if activeCombatantID != "" {
		active = &activeCombatantID
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE encounters SET round = $2, active_combatant_id = $3, updated_at = NOW()
		WHERE id = $1`,
		id, round, active,
	)
	if err != nil {
		return fmt.Errorf("saving encounter state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEncounterNotFound
	}
	return nil
}

// InsertCombatant persists one combatant instance.
//
// Precondition: c.ID and c.DisplayName must be non-empty.
// Postcondition: Returns nil, or ErrDuplicateDisplayName when the name is
// already held within the encounter.
func (r *EncounterRepository) InsertCombatant(ctx context.Context, encounterID string, c encounter.Combatant) error {
	var base *string
	if c.BaseActorID != "" {
		b := c.BaseActorID
		base = &b
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO combatants
			(id, encounter_id, base_actor_id, display_name, kind, initiative,
			 modifier, tie_break, added_order, taken_turn)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, encounterID, base, c.DisplayName, c.Kind.String(), c.Initiative,
		c.Modifier, c.TieBreak, c.AddedOrder, c.TakenTurn,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateDisplayName
		}
		return fmt.Errorf("inserting combatant: %w", err)
	}
	return nil
}

// DeleteCombatant removes a combatant row. Condition attachments cascade.
//
// Precondition: combatantID must be non-empty.
// Postcondition: Returns nil on success, ErrCombatantNotFound if no row deleted.
func (r *EncounterRepository) DeleteCombatant(ctx context.Context, combatantID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM combatants WHERE id = $1`, combatantID)
	if err != nil {
		return fmt.Errorf("deleting combatant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCombatantNotFound
	}
	return nil
}

// ListCombatants returns all combatants for the encounter ordered by added_order.
//
// Precondition: encounterID must be non-empty.
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *EncounterRepository) ListCombatants(ctx context.Context, encounterID string) ([]encounter.Combatant, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, base_actor_id, display_name, kind, initiative,
		       modifier, tie_break, added_order, taken_turn
		FROM combatants WHERE encounter_id = $1 ORDER BY added_order ASC`,
		encounterID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing combatants: %w", err)
	}
	defer rows.Close()

	combatants := make([]encounter.Combatant, 0)
	for rows.Next() {
		var c encounter.Combatant
		var base *string
		var kind string
		if err := rows.Scan(
			&c.ID, &base, &c.DisplayName, &kind, &c.Initiative,
			&c.Modifier, &c.TieBreak, &c.AddedOrder, &c.TakenTurn,
		); err != nil {
			return nil, fmt.Errorf("scanning combatant row: %w", err)
		}
		if base != nil {
			c.BaseActorID = *base
		}
		if c.Kind, err = encounter.ParseKind(kind); err != nil {
			return nil, fmt.Errorf("reading combatant kind: %w", err)
		}
		combatants = append(combatants, c)
	}
	return combatants, rows.Err()
}

// UpdateCombatants writes every given combatant in one transaction, inserting
// any row the database does not have. A bulk save therefore repairs rows
// whose original insert was lost to a transient store failure instead of
// silently dropping them from the persisted roster. Rows for combatants no
// longer in the roster are removed through DeleteCombatant.
//
// Precondition: encounterID must be non-empty.
func (r *EncounterRepository) UpdateCombatants(ctx context.Context, encounterID string, cs []encounter.Combatant) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning combatant update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, c := range cs {
		var base *string
		if c.BaseActorID != "" {
			b := c.BaseActorID
			base = &b
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO combatants
				(id, encounter_id, base_actor_id, display_name, kind, initiative,
				 modifier, tie_break, added_order, taken_turn)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (id) DO UPDATE
			SET display_name = EXCLUDED.display_name,
			    initiative   = EXCLUDED.initiative,
			    tie_break    = EXCLUDED.tie_break,
			    taken_turn   = EXCLUDED.taken_turn`,
			c.ID, encounterID, base, c.DisplayName, c.Kind.String(), c.Initiative,
			c.Modifier, c.TieBreak, c.AddedOrder, c.TakenTurn,
		); err != nil {
			return fmt.Errorf("upserting combatant %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing combatant update: %w", err)
	}
	return nil
}
