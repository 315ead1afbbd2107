package console

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cory-johannsen/tracker/internal/game/condition"
	"github.com/cory-johannsen/tracker/internal/game/encounter"
)

// formatInitiative renders an initiative score: "-" when unrolled, whole
// numbers without a fraction, fractional NPC scores with their full four
// decimals.
func formatInitiative(c encounter.Combatant) string {
	if !c.HasInitiative() {
		return "-"
	}
	return strconv.FormatFloat(c.InitiativeValue(), 'f', -1, 64)
}

// RenderOrder formats the turn order as a table. The active combatant is
// marked with "->", combatants that have taken their turn this round with
// "x", and tied players with "!".
func RenderOrder(snap encounter.Snapshot, tied map[string]bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Round %d", snap.Round)
	if !snap.CanProgress {
		b.WriteString("  (waiting on initiative)")
	}
	b.WriteString("\n")

	if len(snap.Combatants) == 0 {
		b.WriteString("  (no combatants)\n")
		return b.String()
	}

	for _, c := range snap.Combatants {
		marker := "  "
		if c.ID == snap.ActiveID {
			marker = "->"
		}
		turn := " "
		if c.TakenTurn {
			turn = "x"
		}
		tie := " "
		if tied[c.ID] {
			tie = "!"
		}
		fmt.Fprintf(&b, "%s [%s] %-24s %-6s %8s %s",
			marker, turn, c.DisplayName, c.Kind, formatInitiative(c), tie)
		if atts := snap.Conditions[c.ID]; len(atts) > 0 {
			b.WriteString("  ")
			b.WriteString(renderAttachmentList(atts))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// renderAttachmentList formats a combatant's attachments inline:
// "poisoned(2) prone(perm)".
func renderAttachmentList(atts []condition.Attachment) string {
	parts := make([]string, 0, len(atts))
	for _, a := range atts {
		if a.Permanent {
			parts = append(parts, fmt.Sprintf("%s(perm)", a.ConditionID))
		} else {
			parts = append(parts, fmt.Sprintf("%s(%d)", a.ConditionID, a.Remaining))
		}
	}
	return strings.Join(parts, " ")
}

// RenderConditions formats one combatant's attachments, one per line.
func RenderConditions(name string, atts []condition.Attachment, catalog *condition.Catalog) string {
	var b strings.Builder
	if len(atts) == 0 {
		fmt.Fprintf(&b, "%s has no conditions\n", name)
		return b.String()
	}
	fmt.Fprintf(&b, "%s:\n", name)
	for _, a := range atts {
		label := a.ConditionID
		if def, ok := catalog.Get(a.ConditionID); ok && def.Name != "" {
			label = def.Name
		}
		if a.Permanent {
			fmt.Fprintf(&b, "  %-16s permanent (since round %d)\n", label, a.AppliedAtRound)
		} else {
			fmt.Fprintf(&b, "  %-16s %d round(s) left (since round %d)\n", label, a.Remaining, a.AppliedAtRound)
		}
	}
	return b.String()
}

// RenderHelp lists the available commands.
func RenderHelp() string {
	return `commands:
  order                                show the turn order
  roll [all|npc|<name>]                roll initiative
  next | back                          advance or undo one turn
  round next|back                      advance or step back one round
  add actor <name>                     add a combatant from the actor library
  add <name> player|npc [modifier]     add an ad-hoc combatant
  remove <name>                        remove a combatant
  init <name> <value>                  set initiative directly
  tie <name> up|down                   reorder within a tied group
  cond <name>                          list a combatant's conditions
  cond add <name> <condition> <rounds|perm>
  cond remove <name> <condition>
  save                                 save the encounter now
  quit                                 save and exit
`
}
