package sigma

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// CompileError is a positioned rule compilation failure. Line is 1-based and
// zero when the position could not be determined.
type CompileError struct {
	Line int
	Err  error
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *CompileError) Unwrap() error { return e.Err }

var yamlLineRe = regexp.MustCompile(`line (\d+):`)

// newCompileError wraps err, recovering the line position yaml.v3 encodes in
// its error text.
func newCompileError(err error) *CompileError {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce
	}
	line := 0
	if m := yamlLineRe.FindStringSubmatch(err.Error()); m != nil {
		line, _ = strconv.Atoi(m[1])
	}
	return &CompileError{Line: line, Err: err}
}

// ErrMissingDetection indicates a rule without a detection block.
var ErrMissingDetection = errors.New("rule is missing detection field")

// ErrMissingCondition indicates a detection block without a condition.
var ErrMissingCondition = errors.New("rule detection is missing condition")

// ErrUnsupportedModifier rejects rules using modifiers outside the supported
// set, so they fail loudly at compile time.
type ErrUnsupportedModifier struct {
	Field    string
	Modifier string
}

func (e ErrUnsupportedModifier) Error() string {
	return fmt.Sprintf("field %q uses unsupported modifier %q", e.Field, e.Modifier)
}

// ErrMissingConditionItem indicates a condition identifier absent from the
// detection map.
type ErrMissingConditionItem struct {
	Key string
}

func (e ErrMissingConditionItem) Error() string {
	return fmt.Sprintf("missing condition identifier %q", e.Key)
}

// ErrInvalidTokenSeq is a condition syntax error.
type ErrInvalidTokenSeq struct {
	Prev, Next Item
}

func (e ErrInvalidTokenSeq) Error() string {
	return fmt.Sprintf("invalid token sequence %s -> %s (values %q -> %q)",
		e.Prev.T, e.Next.T, e.Prev.Val, e.Next.Val)
}

// ErrUnsupportedToken indicates a condition feature the parser does not
// implement, such as aggregation pipes.
type ErrUnsupportedToken struct {
	Msg string
}

func (e ErrUnsupportedToken) Error() string {
	return fmt.Sprintf("unsupported condition token: %s", e.Msg)
}

// ErrInvalidRegex contextualizes a broken regular expression in a rule.
type ErrInvalidRegex struct {
	Pattern string
	Err     error
}

func (e ErrInvalidRegex) Error() string {
	return fmt.Sprintf("/%s/ %s", e.Pattern, e.Err)
}

// ErrInvalidSelection indicates a selection value with an unsupported shape.
type ErrInvalidSelection struct {
	Name string
	Msg  string
}

func (e ErrInvalidSelection) Error() string {
	return fmt.Sprintf("selection %q: %s", e.Name, e.Msg)
}
