package parser

import (
	"fmt"
	"strings"

	"github.com/bext-lang/b/ir"
)

// Note is a secondary diagnostic line pointing at a related location, such
// as the first declaration in a redefinition error.
type Note struct {
	Pos     ir.Loc
	Message string
}

// Error is a compilation diagnostic with position information. It renders
// as "path:line:col: ERROR: message" followed by one NOTE line per note.
type Error struct {
	Pos     ir.Loc
	Message string
	Notes   []Note
}

func (e *Error) Error() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s: ERROR: %s", e.Pos, e.Message)
	for _, note := range e.Notes {
		fmt.Fprintf(&sb, "\n%s: NOTE: %s", note.Pos, note.Message)
	}

	return sb.String()
}

// NewError creates a new diagnostic at pos.
func NewError(pos ir.Loc, format string, args ...any) *Error {
	return &Error{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// WithNote appends a NOTE line to the diagnostic and returns it.
func (e *Error) WithNote(pos ir.Loc, format string, args ...any) *Error {
	e.Notes = append(e.Notes, Note{Pos: pos, Message: fmt.Sprintf(format, args...)})
	return e
}
