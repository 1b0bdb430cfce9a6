package errors

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode  Phase = "encode"  // Go to engine
	PhaseDecode  Phase = "decode"  // engine to Go
	PhaseCall    Phase = "call"    // eval, call, property access
	PhaseRuntime Phase = "runtime" // context lifecycle
	PhaseLoad    Phase = "load"    // engine loading and configuration
)

// Kind categorizes the error
type Kind string

const (
	KindException      Kind = "exception"
	KindInvalidUTF8    Kind = "invalid_utf8"
	KindUnknown        Kind = "unknown"
	KindTypeMismatch   Kind = "type_mismatch"
	KindInvalidInput   Kind = "invalid_input"
	KindNotInitialized Kind = "not_initialized"
	KindAllocation     Kind = "allocation"
	KindMissingExport  Kind = "missing_export"
)

// Kind-only targets for errors.Is.
var (
	ErrException   = &Error{Kind: KindException}
	ErrInvalidUTF8 = &Error{Kind: KindInvalidUTF8}
	ErrUnknown     = &Error{Kind: KindUnknown}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Stack  string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the property path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Stack sets the JavaScript stack trace
func (b *Builder) Stack(stack string) *Builder {
	b.err.Stack = stack
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Exception creates an error for a value thrown by the engine
func Exception(phase Phase, message, stack string) *Error {
	return New(phase, KindException).Detail(message).Stack(stack).Build()
}

// InvalidUTF8 creates an invalid UTF-8 error. Value holds the offset of the
// first byte that does not start a valid sequence.
func InvalidUTF8(phase Phase, data []byte) *Error {
	offset := invalidOffset(data)
	preview := data[offset:]
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidUTF8,
		Value:  offset,
		Detail: fmt.Sprintf("invalid UTF-8 sequence at byte %d: %x", offset, preview),
	}
}

func invalidOffset(data []byte) int {
	for i := 0; i < len(data); {
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(data)
}

// Unknown creates an error for an engine failure that carries no detail
func Unknown(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnknown,
		Detail: detail,
	}
}

// TypeMismatch creates an error for a value of the wrong kind
func TypeMismatch(phase Phase, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
		Value:  got,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error for a missing or closed component
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
	}
}

// Load creates an engine loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExport describes one engine export a module lacks or declares
// with the wrong signature.
type MissingExport struct {
	Name   string // e.g., "JS_NewStringLen"
	Reason string // empty when absent, otherwise the signature mismatch
}

// MissingExportsError is returned when a WebAssembly engine build does not
// provide every function the bridge needs.
type MissingExportsError struct {
	Exports []MissingExport
}

// NewMissingExportsError creates an error from a list of absent export names
func NewMissingExportsError(names []string) *MissingExportsError {
	result := &MissingExportsError{
		Exports: make([]MissingExport, 0, len(names)),
	}
	for _, name := range names {
		result.Exports = append(result.Exports, MissingExport{Name: name})
	}
	return result
}

// Add records one more unusable export
func (e *MissingExportsError) Add(name, reason string) {
	e.Exports = append(e.Exports, MissingExport{Name: name, Reason: reason})
}

func (e *MissingExportsError) Error() string {
	if len(e.Exports) == 0 {
		return "[load] missing_export: no exports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "engine module lacks %d required export(s):", len(e.Exports))
	for _, exp := range e.Exports {
		b.WriteString("\n  - ")
		b.WriteString(exp.Name)
		if exp.Reason != "" {
			b.WriteString(" (")
			b.WriteString(exp.Reason)
			b.WriteByte(')')
		}
	}
	return b.String()
}

// Is reports whether target matches this error type
func (e *MissingExportsError) Is(target error) bool {
	if _, ok := target.(*MissingExportsError); ok {
		return true
	}
	t, ok := target.(*Error)
	return ok && t.Kind == KindMissingExport && (t.Phase == "" || t.Phase == PhaseLoad)
}
