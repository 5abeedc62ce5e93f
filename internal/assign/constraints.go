package assign

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/iml130/mf-plugin/internal/ir"
)

// Env is the variable set constraint expressions are evaluated over.
// All times are seconds relative to the start of the run.
type Env struct {
	TransportStart    float64
	TransportFinished float64
	Duration          float64
	Distance          float64
	Now               float64
}

var nowIdent = regexp.MustCompile(`\bNow\b`)

// Constraints is the compiled form of a task's ir.Constraints.
type Constraints struct {
	Start   ir.Window
	Finish  ir.Window
	source  string
	program *vm.Program
	usesNow bool
}

// Compile validates and compiles constraints. A nil input compiles to nil,
// which accepts every plan.
func Compile(c *ir.Constraints) (*Constraints, error) {
	if c == nil {
		return nil, nil
	}
	out := &Constraints{Start: c.TransportStart, Finish: c.TransportFinished, source: c.Expression}
	if err := checkWindow("TransportStart", c.TransportStart); err != nil {
		return nil, err
	}
	if err := checkWindow("TransportFinished", c.TransportFinished); err != nil {
		return nil, err
	}
	if c.Expression != "" {
		program, err := expr.Compile(c.Expression, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile constraint %q: %w", c.Expression, err)
		}
		out.program = program
		out.usesNow = nowIdent.MatchString(c.Expression)
	}
	return out, nil
}

func checkWindow(name string, w ir.Window) error {
	if w.Earliest != nil && w.Latest != nil && *w.Earliest > *w.Latest {
		return fmt.Errorf("%s window is empty: earliest %g > latest %g", name, *w.Earliest, *w.Latest)
	}
	return nil
}

// Source returns the expression text, if any.
func (c *Constraints) Source() string {
	if c == nil {
		return ""
	}
	return c.source
}

// earliestStart returns when a transport may start at the soonest.
func (c *Constraints) earliestStart(now float64) float64 {
	if c != nil && c.Start.Earliest != nil && *c.Start.Earliest > now {
		return *c.Start.Earliest
	}
	return now
}

// startExpired reports whether the start window has closed for good.
func (c *Constraints) startExpired(now float64) bool {
	return c != nil && c.Start.Latest != nil && now > *c.Start.Latest
}

// check tests a candidate plan. Finishing before the window opens is
// fine; the entity waits, so the reported finish moves up to Earliest.
func (c *Constraints) check(env *Env) (bool, error) {
	if c == nil {
		return true, nil
	}
	if c.Start.Latest != nil && env.TransportStart > *c.Start.Latest {
		return false, nil
	}
	if c.Finish.Earliest != nil && env.TransportFinished < *c.Finish.Earliest {
		env.TransportFinished = *c.Finish.Earliest
		env.Duration = env.TransportFinished - env.TransportStart
	}
	if c.Finish.Latest != nil && env.TransportFinished > *c.Finish.Latest {
		return false, nil
	}
	if c.program == nil {
		return true, nil
	}
	result, err := vm.Run(c.program, *env)
	if err != nil {
		return false, fmt.Errorf("evaluate constraint %q: %w", c.source, err)
	}
	ok, _ := result.(bool)
	return ok, nil
}
