package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/google/uuid"

	"github.com/iml130/mf-plugin/internal/ir"
)

// CompileFile reads and compiles a program document.
func CompileFile(path string) (*ir.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return CompileBytes(filepath.Base(path), src)
}

// CompileBytes compiles CUE source into a program.
func CompileBytes(filename string, src []byte) (*ir.Program, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return CompileProgram(v)
}

// CompileProgram converts a CUE value into a resolved program index.
//
// The document carries entry, structs, instances, rules, steps and tasks;
// every section except tasks is optional. Instances without an id get one
// derived from the program hash and the instance name, so compiling the
// same document twice yields the same ids. The program hash covers the
// document as written.
//
// CompileProgram only rejects documents it cannot read. Cross references
// are checked by Validate.
func CompileProgram(v cue.Value) (*ir.Program, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	p := ir.NewProgram()
	if entry := v.LookupPath(cue.ParsePath("entry")); entry.Exists() {
		s, err := entry.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		p.Entry = s
	}

	sections := []struct {
		name  string
		parse func(*ir.Program, string, cue.Value) error
	}{
		{"structs", parseStruct},
		{"instances", parseInstance},
		{"rules", parseRule},
		{"steps", parseStep},
		{"tasks", parseTask},
	}
	for _, sec := range sections {
		if err := eachField(v, sec.name, func(name string, fv cue.Value) error {
			return sec.parse(p, name, fv)
		}); err != nil {
			return nil, err
		}
	}
	if len(p.Tasks) == 0 {
		return nil, &CompileError{Field: "tasks", Message: "at least one task is required", Pos: v.Pos()}
	}

	doc, err := literal(v)
	if err != nil {
		return nil, err
	}
	hash, err := ir.ProgramHash(doc)
	if err != nil {
		return nil, fmt.Errorf("hash program: %w", err)
	}
	p.Hash = hash
	for _, name := range p.InstanceOrder {
		si := p.Instances[name]
		if _, ok := si.Fields[ir.FieldID]; !ok {
			si.Fields[ir.FieldID] = ir.String(instanceID(hash, name))
		}
	}
	return p, nil
}

// instanceNamespace scopes generated instance ids.
var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:mfexec:instance"))

func instanceID(programHash, name string) string {
	return uuid.NewSHA1(instanceNamespace, []byte(programHash+"/"+name)).String()
}

// eachField calls fn for every field of section in declaration order.
func eachField(v cue.Value, section string, fn func(string, cue.Value) error) error {
	sv := v.LookupPath(cue.ParsePath(section))
	if !sv.Exists() {
		return nil
	}
	iter, err := sv.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func parseStruct(p *ir.Program, name string, v cue.Value) error {
	field := "structs." + name
	if _, builtin := p.Structs[name]; builtin {
		return &CompileError{Field: field, Message: "redeclares a builtin struct", Pos: v.Pos()}
	}
	decl := &ir.StructDecl{Name: name, Fields: map[string]ir.Kind{}}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		fname := iter.Label()
		s, err := iter.Value().String()
		if err != nil {
			return formatCUEError(err)
		}
		k := ir.Kind(s)
		switch k {
		case ir.KindBool, ir.KindNumber, ir.KindString, ir.KindList, ir.KindObject, ir.KindAny:
		default:
			return &CompileError{Field: field + "." + fname, Message: fmt.Sprintf("unknown field type %q", s), Pos: iter.Value().Pos()}
		}
		if fname == ir.FieldID || fname == ir.FieldTime {
			return &CompileError{Field: field + "." + fname, Message: "id and time are implicit", Pos: iter.Value().Pos()}
		}
		decl.Fields[fname] = k
	}
	p.Structs[name] = decl
	return nil
}

func parseInstance(p *ir.Program, name string, v cue.Value) error {
	field := "instances." + name
	sv := v.LookupPath(cue.ParsePath("struct"))
	if !sv.Exists() {
		return &CompileError{Field: field, Message: "struct is required", Pos: v.Pos()}
	}
	structName, err := sv.String()
	if err != nil {
		return formatCUEError(err)
	}

	si := &ir.StructInstance{Name: name, Struct: structName, Fields: ir.Object{}}
	iter, err := v.Fields()
	if err != nil {
		return formatCUEError(err)
	}
	for iter.Next() {
		fname := iter.Label()
		if fname == "struct" {
			continue
		}
		val, err := literal(iter.Value())
		if err != nil {
			return err
		}
		si.Fields[fname] = val
	}
	if _, ok := si.Fields[ir.FieldTime]; !ok {
		si.Fields[ir.FieldTime] = ir.Number(0)
	}
	p.AddInstance(si)
	return nil
}

func parseRule(p *ir.Program, name string, v cue.Value) error {
	field := "rules." + name
	rule := &ir.Rule{Name: name}

	if params := v.LookupPath(cue.ParsePath("params")); params.Exists() {
		iter, err := params.List()
		if err != nil {
			return formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			pv := iter.Value()
			var param ir.Param
			// A bare string is a parameter without default.
			if s, err := pv.String(); err == nil {
				param.Name = s
			} else {
				nv := pv.LookupPath(cue.ParsePath("name"))
				if param.Name, err = nv.String(); err != nil {
					return &CompileError{Field: fmt.Sprintf("%s.params[%d]", field, i), Message: "name is required", Pos: pv.Pos()}
				}
				if dv := pv.LookupPath(cue.ParsePath("default")); dv.Exists() {
					if param.Default, err = parseExpr(dv, fmt.Sprintf("%s.params[%d].default", field, i)); err != nil {
						return err
					}
				}
			}
			rule.Params = append(rule.Params, param)
		}
	}

	body := v.LookupPath(cue.ParsePath("body"))
	if !body.Exists() {
		return &CompileError{Field: field, Message: "body is required", Pos: v.Pos()}
	}
	iter, err := body.List()
	if err != nil {
		return formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		e, err := parseExpr(iter.Value(), fmt.Sprintf("%s.body[%d]", field, i))
		if err != nil {
			return err
		}
		rule.Body = append(rule.Body, e)
	}
	p.Rules[name] = rule
	return nil
}

func parseStep(p *ir.Program, name string, v cue.Value) error {
	field := "steps." + name
	step := &ir.OrderStep{Name: name}

	kind, err := optString(v, "kind")
	if err != nil {
		return err
	}
	switch ir.StepKind(kind) {
	case ir.StepTransport, ir.StepMove, ir.StepAction:
		step.Kind = ir.StepKind(kind)
	default:
		return &CompileError{Field: field + ".kind", Message: fmt.Sprintf("must be transport, move or action, got %q", kind), Pos: v.Pos()}
	}
	if step.Location, err = optString(v, "location"); err != nil {
		return err
	}
	if step.OnDone, err = optString(v, "onDone"); err != nil {
		return err
	}
	if pv := v.LookupPath(cue.ParsePath("parameters")); pv.Exists() {
		val, err := literal(pv)
		if err != nil {
			return err
		}
		obj, ok := val.(ir.Object)
		if !ok {
			return &CompileError{Field: field + ".parameters", Message: "must be an object", Pos: pv.Pos()}
		}
		step.Parameters = obj
	}
	if step.StartedBy, err = optExpr(v, "startedBy", field); err != nil {
		return err
	}
	if step.FinishedBy, err = optExpr(v, "finishedBy", field); err != nil {
		return err
	}
	p.Steps[name] = step
	return nil
}

func parseTask(p *ir.Program, name string, v cue.Value) error {
	field := "tasks." + name
	task := &ir.Task{Name: name}

	var err error
	if task.StartedBy, err = optExpr(v, "startedBy", field); err != nil {
		return err
	}
	if task.FinishedBy, err = optExpr(v, "finishedBy", field); err != nil {
		return err
	}
	if cv := v.LookupPath(cue.ParsePath("constraints")); cv.Exists() {
		if task.Constraints, err = parseConstraints(cv, field+".constraints"); err != nil {
			return err
		}
	}

	if sv := v.LookupPath(cue.ParsePath("statements")); sv.Exists() {
		iter, err := sv.List()
		if err != nil {
			return formatCUEError(err)
		}
		for i := 0; iter.Next(); i++ {
			stmt, err := parseStatement(iter.Value(), fmt.Sprintf("%s.statements[%d]", field, i))
			if err != nil {
				return err
			}
			task.Statements = append(task.Statements, stmt)
		}
	}
	p.AddTask(task)
	return nil
}

func parseStatement(v cue.Value, field string) (ir.Statement, error) {
	if tv := v.LookupPath(cue.ParsePath("transport")); tv.Exists() {
		t := &ir.TransportOrder{}
		if fv := tv.LookupPath(cue.ParsePath("from")); fv.Exists() {
			// from accepts one step name or a list
			if s, err := fv.String(); err == nil {
				t.From = []string{s}
			} else if err := fv.Decode(&t.From); err != nil {
				return nil, &CompileError{Field: field + ".transport.from", Message: "must be a step name or a list of step names", Pos: fv.Pos()}
			}
		}
		to, err := optString(tv, "to")
		if err != nil {
			return nil, err
		}
		t.To = to
		return t, nil
	}
	if s, ok, err := stringField(v, "move"); ok || err != nil {
		return &ir.MoveOrder{Step: s}, err
	}
	if s, ok, err := stringField(v, "action"); ok || err != nil {
		return &ir.ActionOrder{Step: s}, err
	}
	if s, ok, err := stringField(v, "call"); ok || err != nil {
		return &ir.TaskCall{Task: s}, err
	}
	if hv := v.LookupPath(cue.ParsePath("hook")); hv.Exists() {
		kind, err := optString(hv, "kind")
		if err != nil {
			return nil, err
		}
		h := &ir.HookStatement{Kind: kind}
		if pv := hv.LookupPath(cue.ParsePath("payload")); pv.Exists() {
			val, err := literal(pv)
			if err != nil {
				return nil, err
			}
			obj, ok := val.(ir.Object)
			if !ok {
				return nil, &CompileError{Field: field + ".hook.payload", Message: "must be an object", Pos: pv.Pos()}
			}
			h.Payload = obj
		}
		return h, nil
	}
	return nil, &CompileError{Field: field, Message: "statement needs one of transport, move, action, call, hook", Pos: v.Pos()}
}

// parseConstraints reads the object or expression form. In the object
// form a bare number is shorthand: earliest start for TransportStart,
// latest finish for TransportFinished.
func parseConstraints(v cue.Value, field string) (*ir.Constraints, error) {
	if s, err := v.String(); err == nil {
		return &ir.Constraints{Expression: s}, nil
	}
	c := &ir.Constraints{}
	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be an expression string or an object", Pos: v.Pos()}
	}
	for iter.Next() {
		key := iter.Label()
		fv := iter.Value()
		switch key {
		case "TransportStart":
			if c.TransportStart, err = parseWindow(fv, field+"."+key, true); err != nil {
				return nil, err
			}
		case "TransportFinished":
			if c.TransportFinished, err = parseWindow(fv, field+"."+key, false); err != nil {
				return nil, err
			}
		case "expression":
			if c.Expression, err = fv.String(); err != nil {
				return nil, formatCUEError(err)
			}
		default:
			return nil, &CompileError{Field: field + "." + key, Message: "unknown constraint", Pos: fv.Pos()}
		}
	}
	return c, nil
}

func parseWindow(v cue.Value, field string, scalarIsEarliest bool) (ir.Window, error) {
	var w ir.Window
	if f, err := v.Float64(); err == nil {
		if scalarIsEarliest {
			w.Earliest = &f
		} else {
			w.Latest = &f
		}
		return w, nil
	}
	for _, bound := range []struct {
		name string
		dst  **float64
	}{{"earliest", &w.Earliest}, {"latest", &w.Latest}} {
		bv := v.LookupPath(cue.ParsePath(bound.name))
		if !bv.Exists() {
			continue
		}
		f, err := bv.Float64()
		if err != nil {
			return w, &CompileError{Field: field + "." + bound.name, Message: "must be a number of seconds", Pos: bv.Pos()}
		}
		*bound.dst = &f
	}
	return w, nil
}

func optString(v cue.Value, name string) (string, error) {
	s, _, err := stringField(v, name)
	return s, err
}

// stringField returns a string field and whether it exists.
func stringField(v cue.Value, name string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", true, formatCUEError(err)
	}
	return s, true, nil
}

func optExpr(v cue.Value, name, field string) (ir.Expr, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return nil, nil
	}
	return parseExpr(fv, field+"."+name)
}

// literal converts a concrete CUE value to an ir.Value via JSON, so
// integers and floats both become numbers.
func literal(v cue.Value) (ir.Value, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	val, err := ir.UnmarshalValue(b)
	if err != nil {
		return nil, &CompileError{Field: v.Path().String(), Message: err.Error(), Pos: v.Pos()}
	}
	return val, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
