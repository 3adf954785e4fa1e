package parser

import (
	"github.com/bext-lang/b/ir"
)

// Storage says where a variable lives.
type Storage int

const (
	// StorageExternal is a named symbol resolved at link time.
	StorageExternal Storage = iota
	// StorageAuto is a stack slot; Index is the 1-based autovar slot, with
	// slot 1 nearest the frame base.
	StorageAuto
)

// Var is a variable binding in a lexical scope.
type Var struct {
	Name    string
	Loc     ir.Loc
	Storage Storage
	Index   int // autovar slot, when Storage is StorageAuto
}

// ScopeStack is the stack of lexical variable scopes. Scope 0 is the global
// scope; a scope is pushed on entering a function or a `{}` block.
//
// Popped scope containers are kept around and reused by the next Push, so
// entering and leaving sibling blocks does not reallocate. Only the first
// count entries of scopes are live.
type ScopeStack struct {
	scopes [][]Var
	count  int
}

// Push opens a new innermost scope, reusing a previously popped container
// when one is available.
func (s *ScopeStack) Push() {
	if s.count < len(s.scopes) {
		s.scopes[s.count] = s.scopes[s.count][:0]
	} else {
		s.scopes = append(s.scopes, nil)
	}
	s.count++
}

// Pop closes the innermost scope.
func (s *ScopeStack) Pop() {
	if s.count == 0 {
		panic("pop of empty scope stack")
	}
	s.count--
}

// Depth returns the number of live scopes.
func (s *ScopeStack) Depth() int {
	return s.count
}

// FindNear looks a name up in the innermost scope only.
func (s *ScopeStack) FindNear(name string) *Var {
	return findInScope(s.scopes[s.count-1], name)
}

// FindDeep walks the scopes from innermost to outermost and returns the
// first match, so shadowing declarations win.
func (s *ScopeStack) FindDeep(name string) *Var {
	for i := s.count - 1; i >= 0; i-- {
		if v := findInScope(s.scopes[i], name); v != nil {
			return v
		}
	}
	return nil
}

func findInScope(scope []Var, name string) *Var {
	for i := range scope {
		if scope[i].Name == name {
			return &scope[i]
		}
	}
	return nil
}

// Declare binds a name in the innermost scope. Redeclaring a name already
// bound in that scope is an error carrying a NOTE at the first declaration.
func (s *ScopeStack) Declare(v Var) error {
	if existing := s.FindNear(v.Name); existing != nil {
		return NewError(v.Loc, "redefinition of variable `%s`", v.Name).
			WithNote(existing.Loc, "the first declaration is located here")
	}
	s.scopes[s.count-1] = append(s.scopes[s.count-1], v)
	return nil
}

// Label is a statement label. Addr is the index of the opcode the label
// points at (for definitions) or the index of the Jmp awaiting resolution
// (for uses).
type Label struct {
	Name string
	Loc  ir.Loc
	Addr int
}

func findLabel(labels []Label, name string) *Label {
	for i := range labels {
		if labels[i].Name == name {
			return &labels[i]
		}
	}
	return nil
}

func defineLabel(labels *[]Label, name string, loc ir.Loc, addr int) error {
	if existing := findLabel(*labels, name); existing != nil {
		return NewError(loc, "duplicate label `%s`", name).
			WithNote(existing.Loc, "the first definition is located here")
	}
	*labels = append(*labels, Label{Name: name, Loc: loc, Addr: addr})
	return nil
}

// nameDeclareIfNotExists appends name to names unless it is already there.
func nameDeclareIfNotExists(names *[]string, name string) {
	for _, n := range *names {
		if n == name {
			return
		}
	}
	*names = append(*names, name)
}

// AutoVarsAtor allocates automatic variable slots. Count is the number of
// currently live slots; Max is the high-water mark used to size the stack
// frame. Scratch slots are reclaimed by saving and restoring Count around
// statement and condition boundaries, which never lowers Max.
type AutoVarsAtor struct {
	Count int
	Max   int
}

// Allocate returns a fresh 1-based slot and bumps the watermark.
func (a *AutoVarsAtor) Allocate() int {
	a.Count++
	if a.Count > a.Max {
		a.Max = a.Count
	}
	return a.Count
}
