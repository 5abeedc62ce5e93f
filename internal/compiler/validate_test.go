package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(errs []ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func validateSource(t *testing.T, src string) []ValidationError {
	t.Helper()
	p, err := CompileBytes("v.cue", []byte(src))
	require.NoError(t, err)
	return Validate(p)
}

func TestValidate(t *testing.T) {
	const locations = `
instances: {
	a: {struct: "Location", type: "shelf", x: 0, y: 0}
	b: {struct: "Location", type: "shelf", x: 1, y: 0}
	e: {struct: "Event", value: false}
}
`
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{
			name: "valid",
			src: locations + `
steps: {pa: {kind: "transport", location: "a"}, pb: {kind: "transport", location: "b"}}
tasks: main: statements: [{transport: {from: ["pa"], to: "pb"}}]`,
			want: []string{},
		},
		{
			name: "missing entry",
			src:  `entry: "start", tasks: other: statements: [{call: "other"}]`,
			want: []string{ErrNoEntryTask},
		},
		{
			name: "move before transport",
			src: locations + `
steps: {go: {kind: "move", location: "a"}, pa: {kind: "transport", location: "a"}, pb: {kind: "transport", location: "b"}}
tasks: main: statements: [{move: "go"}, {transport: {from: "pa", to: "pb"}}]`,
			want: []string{ErrNoAssignedEntity},
		},
		{
			name: "action before transport",
			src: locations + `
steps: beep: {kind: "action", parameters: {tone: 1}}
tasks: main: statements: [{action: "beep"}]`,
			want: []string{ErrNoAssignedEntity},
		},
		{
			name: "unknown step and kind mismatch",
			src: locations + `
steps: {go: {kind: "move", location: "a"}}
tasks: main: statements: [{transport: {from: ["go"], to: "nowhere"}}]`,
			want: []string{ErrStepKindMismatch, ErrUnknownStep},
		},
		{
			name: "transport without pickups",
			src: locations + `
steps: pb: {kind: "transport", location: "b"}
tasks: main: statements: [{transport: {to: "pb"}}]`,
			want: []string{ErrTransportIncomplete},
		},
		{
			name: "repeated stops",
			src: locations + `
steps: {pa: {kind: "transport", location: "a"}, pb: {kind: "transport", location: "b"}}
tasks: {
	main: statements: [{transport: {from: ["pa", "pa"], to: "pb"}}]
	back: statements: [{transport: {from: ["pb"], to: "pb"}}]
}`,
			want: []string{ErrDuplicateStop, ErrDuplicateStop},
		},
		{
			name: "location checks",
			src: locations + `
steps: {
	pa: {kind: "transport", location: "e"}
	pb: {kind: "transport"}
	act: {kind: "action"}
}
tasks: main: statements: [{transport: {from: "pa", to: "pb"}}, {action: "act"}]`,
			want: []string{ErrActionNoParameters, ErrNotALocation, ErrStepNoLocation},
		},
		{
			name: "unknown tasks",
			src: locations + `
steps: {pa: {kind: "transport", location: "a", onDone: "ghost"}, pb: {kind: "transport", location: "b"}}
tasks: main: statements: [{transport: {from: "pa", to: "pb"}}, {call: "phantom"}]`,
			want: []string{ErrUnknownTask, ErrUnknownTask},
		},
		{
			name: "references",
			src: locations + `
steps: {
	pa: {kind: "transport", location: "a", startedBy: {ref: "ghost.value"}}
	pb: {kind: "transport", location: "b", finishedBy: {ref: "e.colour"}}
}
tasks: main: statements: [{transport: {from: "pa", to: "pb"}}]`,
			want: []string{ErrUnresolvedReference, ErrUnresolvedReference},
		},
		{
			name: "rule calls",
			src: locations + `
rules: {
	r: {params: ["x", {name: "y", default: 1}, {name: "y", default: 2}], body: [{op: ">", left: {ref: "x"}, right: {ref: "y"}}]}
}
steps: {
	pa: {kind: "transport", location: "a", startedBy: {call: "r", named: {z: 1}}}
	pb: {kind: "transport", location: "b", startedBy: {call: "missing"}}
}
tasks: main: {
	startedBy: {call: "r", args: [1, 2, 3, 4]}
	statements: [{transport: {from: "pa", to: "pb"}}]
}`,
			want: []string{ErrDuplicateParameter, ErrUnknownParameter, ErrRuleArity, ErrUnknownRule, ErrRuleArity},
		},
		{
			name: "empty task",
			src:  `tasks: main: statements: []`,
			want: []string{ErrTaskNoStatements},
		},
		{
			name: "instances",
			src: `
structs: Sensor: {level: "number"}
instances: {
	s: {struct: "Sensor", level: "high"}
	u: {struct: "Unknown"}
	t: {struct: "Time", timing: "every tuesday", value: false}
}
tasks: main: statements: [{call: "main"}]`,
			want: []string{ErrInstanceField, ErrInvalidTiming, ErrInstanceField},
		},
		{
			name: "constraints",
			src: locations + `
steps: {pa: {kind: "transport", location: "a"}, pb: {kind: "transport", location: "b"}}
tasks: {
	main: {constraints: {TransportStart: {earliest: 10, latest: 5}}, statements: [{call: "other"}]}
	other: {constraints: "Distance <", statements: [{transport: {from: "pa", to: "pb"}}]}
}`,
			want: []string{ErrInvalidConstraints, ErrInvalidConstraints},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateSource(t, tt.src)
			assert.Equal(t, tt.want, codes(errs), "%v", errs)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "tasks.main", Code: ErrTaskNoStatements, Message: "task has no statements"}
	assert.Equal(t, "[E212] tasks.main: task has no statements", err.Error())
}
