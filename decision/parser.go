package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
)

// ErrMalformedResponse means no parseable decision array could be located in
// the AI output.
var ErrMalformedResponse = errors.New("malformed AI response")

// ParseError carries the reasoning trace extracted before parsing failed, so
// callers can persist it for postmortem.
type ParseError struct {
	Reasoning string
	Err       error
}

func (e *ParseError) Error() string { return e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

var (
	smartQuoteReplacer = strings.NewReplacer(
		"“", `"`, // left double quote
		"”", `"`, // right double quote
		"‘", "'", // left single quote
		"’", "'", // right single quote
	)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Parse splits raw AI output into a reasoning trace and a decision array.
// The trace is everything before the decision array; the array is located by
// bracket-depth matching and must actually parse as JSON, so a stray
// "[note]" inside the reasoning does not derail extraction. Missing decision
// fields default to their zero values. On failure the extracted trace is
// attached to the returned *ParseError.
func Parse(raw string) (*FullDecision, error) {
	fd := &FullDecision{Timestamp: time.Now()}

	cleaned := smartQuoteReplacer.Replace(raw)

	start, end := findDecisionArray(cleaned)
	if start == -1 {
		fd.CoTTrace = strings.TrimSpace(raw)
		return fd, &ParseError{
			Reasoning: fd.CoTTrace,
			Err:       fmt.Errorf("%w: no JSON array found", ErrMalformedResponse),
		}
	}

	fd.CoTTrace = strings.TrimSpace(trimCodeFence(cleaned[:start]))

	arrayText := trailingCommaRe.ReplaceAllString(cleaned[start:end+1], "$1")
	var decisions []Decision
	if err := json.Unmarshal([]byte(arrayText), &decisions); err != nil {
		return fd, &ParseError{
			Reasoning: fd.CoTTrace,
			Err:       fmt.Errorf("%w: decode decision array: %v", ErrMalformedResponse, err),
		}
	}

	fd.Decisions = decisions
	return fd, nil
}

// findDecisionArray returns the [start, end] byte offsets of the first
// bracket pair that holds a valid JSON array of objects. Candidates whose
// first element is not an object (e.g. the model writing "[note]" or a bare
// number list mid-reasoning) are skipped.
func findDecisionArray(text string) (int, int) {
	for start := 0; start < len(text); start++ {
		if text[start] != '[' {
			continue
		}
		if !looksLikeObjectArray(text[start:]) {
			continue
		}
		end := findMatchingBracket(text, start)
		if end == -1 {
			continue
		}
		candidate := trailingCommaRe.ReplaceAllString(text[start:end+1], "$1")
		if json.Valid([]byte(candidate)) {
			return start, end
		}
	}
	return -1, -1
}

// looksLikeObjectArray reports whether the text opening at '[' starts an
// array of objects (or an empty array).
func looksLikeObjectArray(s string) bool {
	for i := 1; i < len(s); i++ {
		c := rune(s[i])
		if unicode.IsSpace(c) {
			continue
		}
		return c == '{' || c == ']'
	}
	return false
}

// findMatchingBracket returns the index of the ']' matching the '[' at
// start, counting depth and skipping brackets inside JSON strings.
func findMatchingBracket(text string, start int) int {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '[':
			if !inString {
				depth++
			}
		case ']':
			if !inString {
				depth--
				if depth == 0 {
					return i
				}
			}
		}
	}
	return -1
}

// trimCodeFence drops a dangling markdown fence opener left at the end of
// the reasoning text when the model wrapped its array in ```json blocks.
func trimCodeFence(s string) string {
	s = strings.TrimRight(s, " \t\n")
	for _, fence := range []string{"```json", "```"} {
		if strings.HasSuffix(s, fence) {
			return s[:len(s)-len(fence)]
		}
	}
	return s
}
