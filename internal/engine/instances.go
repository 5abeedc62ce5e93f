package engine

import (
	"fmt"

	"github.com/iml130/mf-plugin/internal/eval"
	"github.com/iml130/mf-plugin/internal/ir"
)

// instanceStore holds the live struct instances of a run.
//
// The name and id indexes and the struct declarations are fixed once the
// engine is built or restored (id and time cannot be written externally),
// so post-time validation may read them from any goroutine. Field values are only
// touched by the tick goroutine.
type instanceStore struct {
	structs map[string]*ir.StructDecl
	byName  map[string]*ir.StructInstance
	idIndex map[string]string // id attribute -> program name
	order   []string
}

var _ eval.InstanceView = (*instanceStore)(nil)

func newInstanceStore(p *ir.Program) *instanceStore {
	s := &instanceStore{
		structs: p.Structs,
		byName:  make(map[string]*ir.StructInstance, len(p.Instances)),
		idIndex: make(map[string]string, len(p.Instances)),
	}
	for _, name := range p.InstanceOrder {
		si := p.Instances[name].Clone()
		if si.Fields == nil {
			si.Fields = ir.Object{}
		}
		if _, ok := si.Fields[ir.FieldTime]; !ok {
			si.Fields[ir.FieldTime] = ir.Number(0)
		}
		s.byName[name] = si
		s.order = append(s.order, name)
		if id := si.ID(); id != "" {
			s.idIndex[id] = name
		}
	}
	return s
}

// Instance implements eval.InstanceView.
func (s *instanceStore) Instance(name string) (*ir.StructInstance, bool) {
	si, ok := s.byName[name]
	return si, ok
}

// resolve maps a program name or id attribute to a program name.
func (s *instanceStore) resolve(key string) (string, bool) {
	if _, ok := s.byName[key]; ok {
		return key, true
	}
	name, ok := s.idIndex[key]
	return name, ok
}

// validate checks an external write without applying it.
func (s *instanceStore) validate(key, field string, v ir.Value) (string, error) {
	name, ok := s.resolve(key)
	if !ok {
		return "", &eval.Error{Code: eval.ErrCodeUnresolvedReference, Message: fmt.Sprintf("unknown struct instance %q", key)}
	}
	if field == ir.FieldID || field == ir.FieldTime {
		return "", fmt.Errorf("field %q of %s is maintained by the engine", field, name)
	}
	si := s.byName[name]
	decl, ok := s.structs[si.Struct]
	if !ok {
		return "", fmt.Errorf("instance %s has undeclared struct %q", name, si.Struct)
	}
	if err := ir.CheckAssignable(decl, field, v); err != nil {
		return "", &eval.Error{Code: eval.ErrCodeTypeMismatch, Message: err.Error()}
	}
	return name, nil
}

// apply writes a validated field and stamps the instance's time.
func (s *instanceStore) apply(name, field string, v ir.Value, elapsed float64) {
	si := s.byName[name]
	si.Fields[field] = ir.CloneValue(v)
	si.Fields[ir.FieldTime] = ir.Number(elapsed)
}

// snapshot returns deep copies in declaration order.
func (s *instanceStore) snapshot() []*ir.StructInstance {
	out := make([]*ir.StructInstance, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name].Clone())
	}
	return out
}

// restore overwrites field values of known instances. Ids come from the
// snapshot, so the id index is rebuilt.
func (s *instanceStore) restore(instances []*ir.StructInstance) {
	for _, in := range instances {
		if si, ok := s.byName[in.Name]; ok {
			si.Fields = in.Fields.Clone()
		}
	}
	s.idIndex = make(map[string]string, len(s.order))
	for _, name := range s.order {
		if id := s.byName[name].ID(); id != "" {
			s.idIndex[id] = name
		}
	}
}
