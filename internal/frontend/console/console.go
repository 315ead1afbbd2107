package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/tracker/internal/game/actor"
	"github.com/cory-johannsen/tracker/internal/game/condition"
	"github.com/cory-johannsen/tracker/internal/game/encounter"
	"github.com/cory-johannsen/tracker/internal/game/initiative"
	"github.com/cory-johannsen/tracker/internal/service"
)

// ActorFinder lists the actor library for name lookups.
type ActorFinder interface {
	List(ctx context.Context) ([]*actor.Actor, error)
}

// Console runs the interactive tracker session over a line-oriented
// reader/writer pair, normally stdin/stdout.
type Console struct {
	svc     *service.EncounterService
	actors  ActorFinder
	catalog *condition.Catalog
	in      io.Reader
	out     io.Writer
	logger  *zap.Logger
	closed  atomic.Bool
	save    sync.Once
}

// New creates a Console session.
//
// Precondition: all arguments must be non-nil; svc must have an encounter
// loaded before Start.
func New(svc *service.EncounterService, actors ActorFinder, catalog *condition.Catalog, in io.Reader, out io.Writer, logger *zap.Logger) *Console {
	return &Console{
		svc:     svc,
		actors:  actors,
		catalog: catalog,
		in:      in,
		out:     out,
		logger:  logger,
	}
}

// Start reads and dispatches commands until quit or EOF, then saves.
//
// Postcondition: A final synchronous save has been attempted.
func (c *Console) Start() error {
	c.printOrder()
	scanner := bufio.NewScanner(c.in)
	for {
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			break
		}
		if c.closed.Load() {
			break
		}
		cmd, ok := Parse(scanner.Text())
		if !ok {
			continue
		}
		if cmd.Verb == "quit" || cmd.Verb == "exit" {
			break
		}
		c.dispatch(cmd)
	}
	c.finish()
	if err := scanner.Err(); err != nil && !c.closed.Load() {
		return err
	}
	// A read error after Stop is the closed input, not a failure.
	return nil
}

// Stop ends the session from outside, e.g. on SIGINT. It runs the final save
// itself and, when the input supports closing, unblocks the pending read so
// Start can return.
func (c *Console) Stop() {
	c.closed.Store(true)
	if closer, ok := c.in.(io.Closer); ok {
		closer.Close() //nolint:errcheck
	}
	c.finish()
}

// finish runs the final save exactly once across Start and Stop.
func (c *Console) finish() {
	c.save.Do(c.saveFinal)
}

func (c *Console) dispatch(cmd Command) {
	switch cmd.Verb {
	case "help":
		fmt.Fprint(c.out, RenderHelp())
	case "order":
		c.printOrder()
	case "roll":
		c.handleRoll(cmd)
	case "next":
		c.handleNext()
	case "back":
		c.handleBack()
	case "round":
		c.handleRound(cmd)
	case "add":
		c.handleAdd(cmd)
	case "remove":
		c.handleRemove(cmd)
	case "init":
		c.handleInit(cmd)
	case "tie":
		c.handleTie(cmd)
	case "cond":
		c.handleCond(cmd)
	case "save":
		c.handleSave()
	default:
		fmt.Fprintf(c.out, "unknown command %q (try help)\n", cmd.Verb)
	}
}

func (c *Console) printOrder() {
	t := c.svc.Tracker()
	if t == nil {
		fmt.Fprintln(c.out, "no encounter loaded")
		return
	}
	fmt.Fprint(c.out, RenderOrder(t.Snapshot(), t.TiedPlayers()))
}

func (c *Console) handleRoll(cmd Command) {
	var mode initiative.Mode
	var ids []string
	switch strings.ToLower(cmd.Arg(0)) {
	case "", "all":
		mode = initiative.ModeAll
	case "npc":
		mode = initiative.ModeNPCOnly
	default:
		target, ok := c.findCombatant(cmd.Rest(0))
		if !ok {
			fmt.Fprintf(c.out, "no combatant named %q\n", cmd.Rest(0))
			return
		}
		mode = initiative.ModeSpecific
		ids = []string{target.ID}
	}
	if _, err := c.svc.Roll(mode, ids); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.printOrder()
}

func (c *Console) handleNext() {
	ok, err := c.svc.NextTurn()
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintln(c.out, "cannot advance: every combatant owing a turn needs initiative")
		return
	}
	c.printOrder()
}

func (c *Console) handleBack() {
	ok, err := c.svc.PreviousTurn()
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if !ok {
		fmt.Fprintln(c.out, "cannot step back: already at the first turn (use round back)")
		return
	}
	c.printOrder()
}

func (c *Console) handleRound(cmd Command) {
	switch strings.ToLower(cmd.Arg(0)) {
	case "next", "+":
		ok, err := c.svc.NextRound()
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return
		}
		if !ok {
			fmt.Fprintln(c.out, "cannot advance: every combatant owing a turn needs initiative")
			return
		}
	case "back", "-":
		ok, err := c.svc.PreviousRound()
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return
		}
		if !ok {
			fmt.Fprintln(c.out, "already at round 1")
			return
		}
	default:
		fmt.Fprintln(c.out, "usage: round next|back")
		return
	}
	c.printOrder()
}

func (c *Console) handleAdd(cmd Command) {
	if strings.ToLower(cmd.Arg(0)) == "actor" {
		name := cmd.Rest(1)
		if name == "" {
			fmt.Fprintln(c.out, "usage: add actor <name>")
			return
		}
		a, ok := c.findActor(name)
		if !ok {
			fmt.Fprintf(c.out, "no actor named %q in the library\n", name)
			return
		}
		added, err := c.svc.AddFromActor(context.Background(), a.ID)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
			return
		}
		fmt.Fprintf(c.out, "added %s\n", added.DisplayName)
		c.printOrder()
		return
	}

	// add <name...> player|npc [modifier]
	if len(cmd.Args) < 2 {
		fmt.Fprintln(c.out, "usage: add <name> player|npc [modifier]  |  add actor <name>")
		return
	}
	modifier := 0
	kindIdx := len(cmd.Args) - 1
	if m, err := strconv.Atoi(cmd.Arg(kindIdx)); err == nil {
		modifier = m
		kindIdx--
	}
	kind, err := encounter.ParseKind(strings.ToLower(cmd.Arg(kindIdx)))
	if err != nil || kindIdx < 1 {
		fmt.Fprintln(c.out, "usage: add <name> player|npc [modifier]")
		return
	}
	name := strings.Join(cmd.Args[:kindIdx], " ")
	added, err := c.svc.AddAdHoc(context.Background(), name, kind, modifier)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "added %s\n", added.DisplayName)
	c.printOrder()
}

func (c *Console) handleRemove(cmd Command) {
	target, ok := c.findCombatant(cmd.Rest(0))
	if !ok {
		fmt.Fprintf(c.out, "no combatant named %q\n", cmd.Rest(0))
		return
	}
	if err := c.svc.RemoveCombatant(target.ID); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "removed %s\n", target.DisplayName)
	c.printOrder()
}

func (c *Console) handleInit(cmd Command) {
	if len(cmd.Args) < 2 {
		fmt.Fprintln(c.out, "usage: init <name> <value>")
		return
	}
	value, err := strconv.ParseFloat(cmd.Arg(len(cmd.Args)-1), 64)
	if err != nil {
		fmt.Fprintf(c.out, "invalid initiative %q\n", cmd.Arg(len(cmd.Args)-1))
		return
	}
	name := strings.Join(cmd.Args[:len(cmd.Args)-1], " ")
	target, ok := c.findCombatant(name)
	if !ok {
		fmt.Fprintf(c.out, "no combatant named %q\n", name)
		return
	}
	if err := c.svc.SetInitiative(target.ID, value); err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	c.printOrder()
}

func (c *Console) handleTie(cmd Command) {
	if len(cmd.Args) < 2 {
		fmt.Fprintln(c.out, "usage: tie <name> up|down")
		return
	}
	var dir encounter.Direction
	switch strings.ToLower(cmd.Arg(len(cmd.Args) - 1)) {
	case "up":
		dir = encounter.MoveEarlier
	case "down":
		dir = encounter.MoveLater
	default:
		fmt.Fprintln(c.out, "usage: tie <name> up|down")
		return
	}
	name := strings.Join(cmd.Args[:len(cmd.Args)-1], " ")
	target, ok := c.findCombatant(name)
	if !ok {
		fmt.Fprintf(c.out, "no combatant named %q\n", name)
		return
	}
	moved, err := c.svc.ResolveTie(target.ID, dir)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	if !moved {
		fmt.Fprintf(c.out, "%s is not in a tie, or already at the edge of its group\n", target.DisplayName)
		return
	}
	c.printOrder()
}

func (c *Console) handleCond(cmd Command) {
	switch strings.ToLower(cmd.Arg(0)) {
	case "add":
		c.handleCondAdd(cmd)
	case "remove":
		c.handleCondRemove(cmd)
	default:
		name := cmd.Rest(0)
		target, ok := c.findCombatant(name)
		if !ok {
			fmt.Fprintf(c.out, "no combatant named %q\n", name)
			return
		}
		t := c.svc.Tracker()
		fmt.Fprint(c.out, RenderConditions(target.DisplayName, t.Conditions(target.ID), c.catalog))
	}
}

func (c *Console) handleCondAdd(cmd Command) {
	// cond add <name...> <condition> <rounds|perm>
	if len(cmd.Args) < 4 {
		fmt.Fprintln(c.out, "usage: cond add <name> <condition> <rounds|perm>")
		return
	}
	durArg := strings.ToLower(cmd.Arg(len(cmd.Args) - 1))
	conditionID := strings.ToLower(cmd.Arg(len(cmd.Args) - 2))
	name := strings.Join(cmd.Args[1:len(cmd.Args)-2], " ")

	target, ok := c.findCombatant(name)
	if !ok {
		fmt.Fprintf(c.out, "no combatant named %q\n", name)
		return
	}

	permanent := durArg == "perm" || durArg == "permanent"
	duration := 0
	if !permanent {
		d, err := strconv.Atoi(durArg)
		if err != nil {
			fmt.Fprintf(c.out, "invalid duration %q (rounds or perm)\n", durArg)
			return
		}
		duration = d
	}

	_, current, err := c.svc.ApplyCondition(target.ID, conditionID, permanent, duration)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return
	}
	fmt.Fprint(c.out, RenderConditions(target.DisplayName, current, c.catalog))
}

func (c *Console) handleCondRemove(cmd Command) {
	// cond remove <name...> <condition>
	if len(cmd.Args) < 3 {
		fmt.Fprintln(c.out, "usage: cond remove <name> <condition>")
		return
	}
	conditionID := strings.ToLower(cmd.Arg(len(cmd.Args) - 1))
	name := strings.Join(cmd.Args[1:len(cmd.Args)-1], " ")

	target, ok := c.findCombatant(name)
	if !ok {
		fmt.Fprintf(c.out, "no combatant named %q\n", name)
		return
	}
	t := c.svc.Tracker()
	for _, a := range t.Conditions(target.ID) {
		if a.ConditionID == conditionID {
			_, current, err := c.svc.RemoveCondition(a.ID)
			if err != nil {
				fmt.Fprintf(c.out, "error: %v\n", err)
				return
			}
			fmt.Fprint(c.out, RenderConditions(target.DisplayName, current, c.catalog))
			return
		}
	}
	fmt.Fprintf(c.out, "%s does not have %s\n", target.DisplayName, conditionID)
}

func (c *Console) handleSave() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.svc.SaveNow(ctx); err != nil {
		fmt.Fprintf(c.out, "save failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "saved")
}

func (c *Console) saveFinal() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.svc.Close()
	if err := c.svc.SaveNow(ctx); err != nil {
		c.logger.Warn("final save failed", zap.Error(err))
		fmt.Fprintf(c.out, "save failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "saved")
}

// findCombatant resolves a display name (case-insensitive) or combatant id.
func (c *Console) findCombatant(name string) (encounter.Combatant, bool) {
	t := c.svc.Tracker()
	if t == nil || name == "" {
		return encounter.Combatant{}, false
	}
	for _, cb := range t.Combatants() {
		if strings.EqualFold(cb.DisplayName, name) || cb.ID == name {
			return cb, true
		}
	}
	return encounter.Combatant{}, false
}

// findActor resolves a library actor by case-insensitive name or id.
func (c *Console) findActor(name string) (*actor.Actor, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	actors, err := c.actors.List(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return nil, false
	}
	for _, a := range actors {
		if strings.EqualFold(a.Name, name) || a.ID == name {
			return a, true
		}
	}
	return nil, false
}
