package diag

import (
	"fmt"
	"strings"

	"github.com/spongelang/sponge/pkg/token"
)

// Stage identifies which pipeline stage rejected the program.
type Stage string

const (
	Lex      Stage = "lex-error"
	Parse    Stage = "parse-error"
	Analysis Stage = "analysis-error"
	Codegen  Stage = "codegen-error"
)

// Error is the single diagnostic a failed compilation produces. Stages abort
// on the first mismatch; there is no recovery and no multi-error reporting.
type Error struct {
	Stage   Stage
	Pos     token.Pos
	Message string

	// Context is the rendered source excerpt, when the stage had access to
	// the source text. Codegen errors usually have none.
	Context string
}

func (e *Error) Error() string {
	if e.Context == "" {
		return fmt.Sprintf("%s: %d:%d: %s", e.Stage, e.Pos.Line, e.Pos.Column, e.Message)
	}
	return fmt.Sprintf(
		"%s\n%s: %d:%d: %s",
		e.Context, e.Stage, e.Pos.Line, e.Pos.Column, e.Message,
	)
}

// New builds a positioned error with a rendered source excerpt.
func New(stage Stage, source string, pos token.Pos, message string) *Error {
	return &Error{
		Stage:   stage,
		Pos:     pos,
		Message: message,
		Context: SourceContext(source, pos),
	}
}

// SourceContext renders the line of pos with a gutter and a `^` marker under
// the offending column, plus one line of surrounding context where it exists.
func SourceContext(source string, pos token.Pos) string {
	source = strings.ReplaceAll(source, "\r\n", "\n")
	sourceLines := strings.Split(source, "\n")
	numLines := len(sourceLines)

	if pos.Line < 1 || pos.Line > numLines {
		return ""
	}

	line := sourceLines[pos.Line-1]
	col := pos.Column
	if col < 1 {
		col = 1
	}
	if col > len(line) {
		col = len(line) + 1
	}

	offsetHighlight := make([]byte, col)
	for i := 0; i < col-1; i++ {
		if i < len(line) && line[i] == '\t' {
			offsetHighlight[i] = '\t'
		} else {
			offsetHighlight[i] = ' '
		}
	}
	offsetHighlight[col-1] = '^'

	if pos.Line == 1 {
		return fmt.Sprintf(`
%4d | %s
     | %s`,
			1,
			line,
			string(offsetHighlight),
		)
	}

	return fmt.Sprintf(`
%4d | %s
%4d | %s
     | %s`,
		pos.Line-1, sourceLines[pos.Line-2],
		pos.Line, line,
		string(offsetHighlight),
	)
}

// Bail panics with err; the stage's exported entry point recovers it via
// Recover. Keeps the deep recursive abort shape without killing the process.
func Bail(err *Error) {
	panic(err)
}

// Recover converts a Bail panic back into an error value. Use in a deferred
// call from a stage's entry point:
//
//	defer diag.Recover(&err)
func Recover(err *error) {
	if r := recover(); r != nil {
		if d, ok := r.(*Error); ok {
			*err = d
			return
		}
		panic(r)
	}
}
