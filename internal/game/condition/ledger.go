package condition

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ErrDuplicateCondition is returned when a condition type is applied to a
// combatant that already carries it. The caller must remove the existing
// attachment before re-applying with different parameters.
var ErrDuplicateCondition = errors.New("condition already applied to combatant")

// ErrInvalidDuration is returned when a non-permanent attachment is applied
// without a positive duration.
var ErrInvalidDuration = errors.New("non-permanent condition requires a positive duration")

// ErrAttachmentNotFound is returned when an attachment lookup yields nothing.
var ErrAttachmentNotFound = errors.New("condition attachment not found")

// Attachment is one active status effect on one combatant: permanent, or
// counted down in rounds and swept at a round boundary.
type Attachment struct {
	ID          string
	CombatantID string
	// ConditionID refers to a Definition in the catalog. At most one
	// attachment per (combatant, condition) pair exists at a time.
	ConditionID string
	Permanent   bool
	// Remaining is the round countdown; meaningless when Permanent.
	Remaining int
	// AppliedAtRound records when the effect landed, for display and audit.
	AppliedAtRound int
}

// Ledger owns the set of active attachments across an encounter. The
// in-memory maps are the single source of truth: reads always come from
// them, and mutating callers read back through ConditionsFor before
// reporting to consumers, so no cached view can diverge.
//
// Ledger is not safe for concurrent use; the tracker serialises access.
type Ledger struct {
	// byCombatant maps combatant id → condition id → attachment.
	byCombatant map[string]map[string]*Attachment
	byID        map[string]*Attachment
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byCombatant: make(map[string]map[string]*Attachment),
		byID:        make(map[string]*Attachment),
	}
}

// Apply creates a new attachment for the (combatantID, conditionID) pair.
//
// Precondition: combatantID and conditionID must be non-empty.
// Postcondition: Returns the created attachment, ErrDuplicateCondition when
// the pair already has one, or ErrInvalidDuration when !permanent and
// duration <= 0. Nothing is mutated on error.
func (l *Ledger) Apply(combatantID, conditionID string, permanent bool, duration, round int) (Attachment, error) {
	if !permanent && duration <= 0 {
		return Attachment{}, fmt.Errorf("applying %q to %q: %w", conditionID, combatantID, ErrInvalidDuration)
	}
	if existing, ok := l.byCombatant[combatantID][conditionID]; ok {
		return Attachment{}, fmt.Errorf("applying %q to %q (attachment %s): %w",
			conditionID, combatantID, existing.ID, ErrDuplicateCondition)
	}

	att := &Attachment{
		ID:             uuid.NewString(),
		CombatantID:    combatantID,
		ConditionID:    conditionID,
		Permanent:      permanent,
		AppliedAtRound: round,
	}
	if !permanent {
		att.Remaining = duration
	}
	if l.byCombatant[combatantID] == nil {
		l.byCombatant[combatantID] = make(map[string]*Attachment)
	}
	l.byCombatant[combatantID][conditionID] = att
	l.byID[att.ID] = att
	return *att, nil
}

// Remove deletes one attachment by id.
//
// Postcondition: Returns the removed attachment, or ErrAttachmentNotFound.
func (l *Ledger) Remove(attachmentID string) (Attachment, error) {
	att, ok := l.byID[attachmentID]
	if !ok {
		return Attachment{}, fmt.Errorf("removing attachment %q: %w", attachmentID, ErrAttachmentNotFound)
	}
	l.drop(att)
	return *att, nil
}

// RemoveAllFor deletes every attachment on the given combatant, returning
// the removed attachments. Used when a combatant leaves the encounter.
func (l *Ledger) RemoveAllFor(combatantID string) []Attachment {
	var removed []Attachment
	for _, att := range l.byCombatant[combatantID] {
		removed = append(removed, *att)
		delete(l.byID, att.ID)
	}
	delete(l.byCombatant, combatantID)
	sortAttachments(removed)
	return removed
}

// DecrementAndSweep applies one round transition to the ledger: every
// non-permanent attachment's Remaining drops by one, then attachments at or
// below zero are deleted.
//
// Postcondition: Returns the swept attachments; no surviving non-permanent
// attachment has Remaining <= 0.
func (l *Ledger) DecrementAndSweep() []Attachment {
	var swept []Attachment
	for _, att := range l.byID {
		if att.Permanent {
			continue
		}
		att.Remaining--
		if att.Remaining <= 0 {
			swept = append(swept, *att)
		}
	}
	for i := range swept {
		l.drop(l.byID[swept[i].ID])
	}
	sortAttachments(swept)
	return swept
}

// ConditionsFor returns fresh copies of the combatant's attachments, sorted
// by the round they were applied and then by condition id. The result always
// reflects the current ledger state.
func (l *Ledger) ConditionsFor(combatantID string) []Attachment {
	atts := l.byCombatant[combatantID]
	if len(atts) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(atts))
	for _, att := range atts {
		out = append(out, *att)
	}
	sortAttachments(out)
	return out
}

// Get returns a copy of the attachment with the given id.
//
// Postcondition: Returns the attachment or ErrAttachmentNotFound.
func (l *Ledger) Get(attachmentID string) (Attachment, error) {
	att, ok := l.byID[attachmentID]
	if !ok {
		return Attachment{}, fmt.Errorf("attachment %q: %w", attachmentID, ErrAttachmentNotFound)
	}
	return *att, nil
}

// All returns every active attachment grouped by combatant id, as copies.
func (l *Ledger) All() map[string][]Attachment {
	out := make(map[string][]Attachment, len(l.byCombatant))
	for id := range l.byCombatant {
		out[id] = l.ConditionsFor(id)
	}
	return out
}

// Load seeds the ledger from persisted attachments, e.g. when entering a
// saved encounter.
//
// Precondition: The ledger should be empty; atts must not contain duplicate
// (combatant, condition) pairs.
// Postcondition: Returns ErrDuplicateCondition on a pair collision; already
// loaded attachments are retained.
func (l *Ledger) Load(atts []Attachment) error {
	for _, a := range atts {
		if _, ok := l.byCombatant[a.CombatantID][a.ConditionID]; ok {
			return fmt.Errorf("loading attachment %q: %w", a.ID, ErrDuplicateCondition)
		}
		att := a
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		if l.byCombatant[att.CombatantID] == nil {
			l.byCombatant[att.CombatantID] = make(map[string]*Attachment)
		}
		l.byCombatant[att.CombatantID][att.ConditionID] = &att
		l.byID[att.ID] = &att
	}
	return nil
}

func (l *Ledger) drop(att *Attachment) {
	delete(l.byID, att.ID)
	if m, ok := l.byCombatant[att.CombatantID]; ok {
		delete(m, att.ConditionID)
		if len(m) == 0 {
			delete(l.byCombatant, att.CombatantID)
		}
	}
}

func sortAttachments(atts []Attachment) {
	sort.Slice(atts, func(i, j int) bool {
		if atts[i].AppliedAtRound != atts[j].AppliedAtRound {
			return atts[i].AppliedAtRound < atts[j].AppliedAtRound
		}
		if atts[i].CombatantID != atts[j].CombatantID {
			return atts[i].CombatantID < atts[j].CombatantID
		}
		return atts[i].ConditionID < atts[j].ConditionID
	})
}
