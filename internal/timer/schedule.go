// Package timer fires Time instances on their cron schedules.
//
// Each Time instance carries a timing attribute in standard five-field
// cron syntax (descriptors such as "@every 30s" are accepted too). When an
// occurrence is due the engine sets the instance's value to true, so
// conditions like nightly.value == true open at the scheduled moment.
package timer

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/iml130/mf-plugin/internal/ir"
)

// Firing is one due occurrence.
type Firing struct {
	Instance string
	At       time.Time
}

type entry struct {
	instance string
	spec     string
	sched    cron.Schedule
	next     time.Time
}

// Schedule tracks the next occurrence of every timed instance.
// It is owned by the engine's tick goroutine and is not safe for
// concurrent use.
type Schedule struct {
	entries []*entry
}

// Parse validates a timing expression.
func Parse(spec string) (cron.Schedule, error) {
	s, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid timing %q: %w", spec, err)
	}
	return s, nil
}

// New arms every Time instance of the program with a non-empty timing,
// counting occurrences strictly after start.
func New(program *ir.Program, start time.Time) (*Schedule, error) {
	s := &Schedule{}
	for _, name := range program.InstanceOrder {
		inst := program.Instances[name]
		if inst.Struct != ir.StructTime {
			continue
		}
		timing, ok := inst.Fields[ir.FieldTiming].(ir.String)
		if !ok || timing == "" {
			continue
		}
		sched, err := Parse(string(timing))
		if err != nil {
			return nil, fmt.Errorf("instance %s: %w", name, err)
		}
		s.entries = append(s.entries, &entry{
			instance: name,
			spec:     string(timing),
			sched:    sched,
			next:     sched.Next(start),
		})
	}
	return s, nil
}

// State is the armed occurrence of one instance, kept in snapshots so a
// resumed run still fires occurrences that fell due while it was stopped.
type State struct {
	Instance string    `json:"instance"`
	Next     time.Time `json:"next"`
}

// States returns the armed occurrences in declaration order.
func (s *Schedule) States() []State {
	out := make([]State, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, State{Instance: e.instance, Next: e.next})
	}
	return out
}

// Restore re-arms instances from saved states. States naming instances
// the schedule does not track are ignored.
func (s *Schedule) Restore(states []State) {
	for _, st := range states {
		for _, e := range s.entries {
			if e.instance == st.Instance {
				e.next = st.Next
			}
		}
	}
}

// Len returns the number of armed instances.
func (s *Schedule) Len() int { return len(s.entries) }

// Due returns the instances whose next occurrence is at or before now, in
// declaration order, and re-arms them after now. Several missed
// occurrences of one instance coalesce into a single firing.
func (s *Schedule) Due(now time.Time) []Firing {
	var out []Firing
	for _, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		out = append(out, Firing{Instance: e.instance, At: e.next})
		e.next = e.sched.Next(now)
	}
	return out
}

// Next returns the armed occurrence of an instance.
func (s *Schedule) Next(instance string) (time.Time, bool) {
	for _, e := range s.entries {
		if e.instance == instance {
			return e.next, !e.next.IsZero()
		}
	}
	return time.Time{}, false
}

// Earliest returns the soonest armed occurrence, used to wake a run loop.
func (s *Schedule) Earliest() (time.Time, bool) {
	var best time.Time
	for _, e := range s.entries {
		if e.next.IsZero() {
			continue
		}
		if best.IsZero() || e.next.Before(best) {
			best = e.next
		}
	}
	return best, !best.IsZero()
}
