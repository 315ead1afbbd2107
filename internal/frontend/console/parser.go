// Package console provides the line-oriented terminal frontend: a command
// parser, a text renderer for the turn order, and the interactive session
// loop driving the encounter service.
package console

import "strings"

// Command is one parsed input line.
type Command struct {
	// Verb is the first word, lower-cased.
	Verb string
	// Args are the remaining whitespace-separated words, case preserved.
	Args []string
}

// Parse splits an input line into a Command. Returns false for blank lines.
func Parse(line string) (Command, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, false
	}
	return Command{
		Verb: strings.ToLower(fields[0]),
		Args: fields[1:],
	}, true
}

// Arg returns the i-th argument, or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Rest joins the arguments from i onward with single spaces. Multi-word
// names ("Mysterious Stranger") arrive as separate fields; commands that end
// in a name use Rest to reassemble it.
func (c Command) Rest(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return strings.Join(c.Args[i:], " ")
}
