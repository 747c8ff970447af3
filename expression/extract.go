package expression

import "strings"

// SegmentKind distinguishes the pieces Extract splits a string into.
type SegmentKind int

const (
	// SegmentText is literal text between expressions.
	SegmentText SegmentKind = iota
	// SegmentCompileTime is the body of a ${{ ... }} occurrence.
	SegmentCompileTime
	// SegmentRuntime is the body of a $[ ... ] occurrence.
	SegmentRuntime
	// SegmentMacro is the variable path of a $( ... ) occurrence.
	SegmentMacro
)

// Segment is one piece of a string after expression extraction.
type Segment struct {
	Kind SegmentKind
	Text string
}

// Extract splits input into literal text and the three expression forms.
// Compile-time bodies may nest further ${{ }} occurrences; runtime and
// macro bodies balance their bracket kind and respect single-quoted
// strings. Unterminated forms fall through as literal text.
func Extract(input string) []Segment {
	var segments []Segment
	chars := []rune(input)
	n := len(chars)
	pos := 0

	for pos < n {
		if pos+3 < n && chars[pos] == '$' && chars[pos+1] == '{' && chars[pos+2] == '{' {
			if end, ok := findClosingDouble(chars, pos+3); ok {
				body := strings.TrimSpace(string(chars[pos+3 : end]))
				segments = append(segments, Segment{Kind: SegmentCompileTime, Text: body})
				pos = end + 2
				continue
			}
		}
		if pos+2 < n && chars[pos] == '$' && chars[pos+1] == '[' {
			if end, ok := findClosingSingle(chars, pos+2, '[', ']'); ok {
				body := strings.TrimSpace(string(chars[pos+2 : end]))
				segments = append(segments, Segment{Kind: SegmentRuntime, Text: body})
				pos = end + 1
				continue
			}
		}
		if pos+2 < n && chars[pos] == '$' && chars[pos+1] == '(' {
			if end, ok := findClosingSingle(chars, pos+2, '(', ')'); ok {
				body := strings.TrimSpace(string(chars[pos+2 : end]))
				segments = append(segments, Segment{Kind: SegmentMacro, Text: body})
				pos = end + 1
				continue
			}
		}

		start := pos
		for pos < n {
			if pos+1 < n && chars[pos] == '$' {
				next := chars[pos+1]
				if next == '{' || next == '[' || next == '(' {
					break
				}
			}
			pos++
		}
		if pos > start {
			segments = append(segments, Segment{Kind: SegmentText, Text: string(chars[start:pos])})
		}
	}

	return segments
}

// findClosingDouble locates the }} matching an already-consumed ${{,
// tracking nested ${{ occurrences.
func findClosingDouble(chars []rune, start int) (int, bool) {
	depth := 1
	i := start
	for i+1 < len(chars) {
		switch {
		case chars[i] == '}' && chars[i+1] == '}':
			depth--
			if depth == 0 {
				return i, true
			}
			i += 2
		case chars[i] == '$' && i+2 < len(chars) && chars[i+1] == '{' && chars[i+2] == '{':
			depth++
			i += 3
		default:
			i++
		}
	}
	return 0, false
}

// findClosingSingle locates the closing bracket, balancing the opening
// kind and ignoring brackets inside single-quoted strings.
func findClosingSingle(chars []rune, start int, opening, closing rune) (int, bool) {
	depth := 1
	inString := false
	for i := start; i < len(chars); i++ {
		ch := chars[i]
		if ch == '\'' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case opening:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
