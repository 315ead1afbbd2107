package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/tracker/internal/game/condition"
)

// ErrAttachmentNotFound is returned when an attachment lookup yields no results.
var ErrAttachmentNotFound = errors.New("condition attachment not found")

// ErrDuplicateAttachment is returned when inserting an attachment for a
// (combatant, condition) pair that already holds one.
var ErrDuplicateAttachment = errors.New("condition already attached to combatant")

// AttachmentRepository provides condition attachment persistence operations.
type AttachmentRepository struct {
	db *pgxpool.Pool
}

// NewAttachmentRepository creates an AttachmentRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewAttachmentRepository(db *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// Insert persists one condition attachment.
//
// Precondition: a.ID, a.CombatantID, and a.ConditionID must be non-empty.
// Postcondition: Returns nil, or ErrDuplicateAttachment when the pair exists.
func (r *AttachmentRepository) Insert(ctx context.Context, a condition.Attachment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO condition_attachments
			(id, combatant_id, condition_id, permanent, remaining, applied_at_round)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, a.CombatantID, a.ConditionID, a.Permanent, a.Remaining, a.AppliedAtRound,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateAttachment
		}
		return fmt.Errorf("inserting attachment: %w", err)
	}
	return nil
}

// Delete removes one attachment by id.
//
// Precondition: id must be non-empty.
// Postcondition: Returns nil on success, ErrAttachmentNotFound if no row deleted.
func (r *AttachmentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM condition_attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting attachment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttachmentNotFound
	}
	return nil
}

// DeleteAllFor removes every attachment held by the given combatant.
//
// Precondition: combatantID must be non-empty.
// Postcondition: Returns the number of rows removed.
func (r *AttachmentRepository) DeleteAllFor(ctx context.Context, combatantID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM condition_attachments WHERE combatant_id = $1`, combatantID)
	if err != nil {
		return 0, fmt.Errorf("deleting attachments for combatant: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByEncounter returns every attachment held by combatants of the given
// encounter, ordered by combatant then condition id.
//
// Precondition: encounterID must be non-empty.
// Postcondition: Returns a slice (may be empty) or a non-nil error.
func (r *AttachmentRepository) ListByEncounter(ctx context.Context, encounterID string) ([]condition.Attachment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.combatant_id, a.condition_id, a.permanent, a.remaining, a.applied_at_round
		FROM condition_attachments a
		JOIN combatants c ON c.id = a.combatant_id
		WHERE c.encounter_id = $1
		ORDER BY a.combatant_id ASC, a.condition_id ASC`,
		encounterID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing attachments: %w", err)
	}
	defer rows.Close()

	atts := make([]condition.Attachment, 0)
	for rows.Next() {
		var a condition.Attachment
		if err := rows.Scan(
			&a.ID, &a.CombatantID, &a.ConditionID, &a.Permanent, &a.Remaining, &a.AppliedAtRound,
		); err != nil {
			return nil, fmt.Errorf("scanning attachment row: %w", err)
		}
		atts = append(atts, a)
	}
	return atts, rows.Err()
}

// Sync replaces the attachment rows for the given combatants in one
// transaction with the ledger's current view. Used by round transitions where
// several attachments decrement or expire at once.
//
// Precondition: combatantIDs lists every combatant whose rows may change.
func (r *AttachmentRepository) Sync(ctx context.Context, combatantIDs []string, current []condition.Attachment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning attachment sync: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, id := range combatantIDs {
		if _, err := tx.Exec(ctx,
			`DELETE FROM condition_attachments WHERE combatant_id = $1`, id); err != nil {
			return fmt.Errorf("clearing attachments for %s: %w", id, err)
		}
	}
	for _, a := range current {
		if _, err := tx.Exec(ctx, `
			INSERT INTO condition_attachments
				(id, combatant_id, condition_id, permanent, remaining, applied_at_round)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			a.ID, a.CombatantID, a.ConditionID, a.Permanent, a.Remaining, a.AppliedAtRound,
		); err != nil {
			return fmt.Errorf("restoring attachment %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing attachment sync: %w", err)
	}
	return nil
}
