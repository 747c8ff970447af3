package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrorKind classifies a ParseError.
type ErrorKind string

const (
	KindYAMLSyntax    ErrorKind = "yaml-syntax"
	KindInvalidSchema ErrorKind = "invalid-schema"
	KindInvalidValue  ErrorKind = "invalid-value"
	KindTemplate      ErrorKind = "template"
	KindExpression    ErrorKind = "expression"
	KindIO            ErrorKind = "io"
	KindValidation    ErrorKind = "validation"
)

// ParseError carries location, surrounding source context, and an optional
// fix suggestion alongside the message.
type ParseError struct {
	Message    string
	Line       int
	Column     int
	Context    string
	Suggestion string
	Kind       ErrorKind
}

func NewParseError(message string, line, column int) *ParseError {
	return &ParseError{Message: message, Line: line, Column: column, Kind: KindInvalidSchema}
}

func (e *ParseError) WithKind(kind ErrorKind) *ParseError {
	e.Kind = kind
	return e
}

func (e *ParseError) WithSuggestion(suggestion string) *ParseError {
	e.Suggestion = suggestion
	return e
}

// WithSourceContext renders a gutter view of the lines around the error,
// marking the error line and column.
func (e *ParseError) WithSourceContext(source string, contextLines int) *ParseError {
	lines := strings.Split(source, "\n")
	start := e.Line - contextLines - 1
	if start < 0 {
		start = 0
	}
	end := e.Line + contextLines
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		lineNum := i + 1
		prefix := " "
		if lineNum == e.Line {
			prefix = ">"
		}
		fmt.Fprintf(&b, "%s %4d | %s\n", prefix, lineNum, lines[i])
		if lineNum == e.Line && e.Column > 0 {
			fmt.Fprintf(&b, "       | %s^\n", strings.Repeat(" ", e.Column-1))
		}
	}
	e.Context = b.String()
	return e
}

func (e *ParseError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error: %s\n", e.Message)
	fmt.Fprintf(&b, "  --> line %d:%d\n", e.Line, e.Column)
	if e.Context != "" {
		b.WriteString("\n")
		b.WriteString(e.Context)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\nhelp: %s\n", e.Suggestion)
	}
	return b.String()
}

var yamlLineRe = regexp.MustCompile(`line (\d+)`)

// FromYAMLError converts a yaml.v3 decode error into a ParseError with
// source context and, where a common mistake is recognized, a suggestion.
func FromYAMLError(err error, source string) *ParseError {
	msg := err.Error()
	line := 1
	if m := yamlLineRe.FindStringSubmatch(msg); m != nil {
		if n, convErr := strconv.Atoi(m[1]); convErr == nil {
			line = n
		}
	}
	msg = strings.TrimPrefix(msg, "yaml: ")
	msg = strings.TrimPrefix(msg, "unmarshal errors:\n  ")

	pe := NewParseError(msg, line, 1).WithKind(KindYAMLSyntax).WithSourceContext(source, 2)
	if suggestion := suggestFix(msg, sourceLine(source, line)); suggestion != "" {
		pe.Suggestion = suggestion
	}
	return pe
}

func sourceLine(source string, line int) string {
	lines := strings.Split(source, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return lines[line-1]
}

// typoSuggestions maps common lowercased misspellings to the camelCase
// field the author almost certainly meant.
var typoSuggestions = []struct {
	typo    string
	correct string
}{
	{"dependson", "dependsOn"},
	{"displayname", "displayName"},
	{"vmimage", "vmImage"},
	{"workingdirectory", "workingDirectory"},
	{"continueonerror", "continueOnError"},
	{"timeout:", "timeoutInMinutes"},
}

func suggestFix(msg, errorLine string) string {
	if strings.HasPrefix(errorLine, "\t") {
		return "YAML prefers spaces over tabs for indentation. Replace tabs with spaces."
	}

	lower := strings.ToLower(errorLine)
	for _, entry := range typoSuggestions {
		if strings.Contains(lower, entry.typo) && !strings.Contains(errorLine, entry.correct) {
			return fmt.Sprintf("did you mean '%s'?", entry.correct)
		}
	}

	if strings.Contains(msg, "cannot unmarshal") && strings.Contains(lower, "script:") {
		return "'script:' should be at the step level, not nested inside another key. Check your indentation."
	}
	return ""
}

// ValidationError reports a semantic problem found after parsing, located
// by a dotted document path rather than a line number.
type ValidationError struct {
	Message    string
	Path       string
	Suggestion string
}

func (e *ValidationError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("validation error at '%s': %s (%s)", e.Path, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("validation error at '%s': %s", e.Path, e.Message)
}
