// Package dice provides the randomness abstraction used by the initiative
// roller. Keeping randomness behind the Source interface lets every combat
// computation run deterministically under test.
package dice

// Source is the randomness provider for all rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}
