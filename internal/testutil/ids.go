package testutil

import "fmt"

// RunID returns the run id used for a named scenario. The same name always
// yields the same id, so persisted traces compare byte for byte.
//
// If name is empty, RunID returns "test-run-default".
func RunID(name string) string {
	if name == "" {
		return "test-run-default"
	}
	return "test-run-" + name
}

// Sequence hands out "<prefix>-1", "<prefix>-2", ... It is not safe for
// concurrent use.
type Sequence struct {
	prefix string
	n      int
}

// NewSequence creates a sequence with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// Generate returns the next id. It satisfies engine.IDGenerator.
func (s *Sequence) Generate() string {
	s.n++
	return fmt.Sprintf("%s-%d", s.prefix, s.n)
}
