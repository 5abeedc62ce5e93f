package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunID(t *testing.T) {
	assert.Equal(t, "test-run-default", RunID(""))
	assert.Equal(t, "test-run-nearest", RunID("nearest"))
	assert.Equal(t, RunID("x"), RunID("x"))
}

func TestSequence(t *testing.T) {
	s := NewSequence("task")
	assert.Equal(t, "task-1", s.Generate())
	assert.Equal(t, "task-2", s.Generate())
	assert.Equal(t, "other-1", NewSequence("other").Generate())
}
