package receipt

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// shortest "[ ... ]" run, used when no balanced array closes
var arraySpanRe = regexp.MustCompile(`\[[\s\S]*?\]`)

// FindArraySpan returns the first array-shaped span of text.
//
// The span starts at the first '['. If the brackets opened there close (strings are honoured),
// the span ends at that closing bracket; otherwise it ends at the first ']' after the start.
// The span is not checked for JSON validity.
func FindArraySpan(text string) (string, bool) {
	start := strings.IndexByte(text, '[')
	if start < 0 {
		return "", false
	}
	if end, ok := balancedEnd(text, start); ok {
		return text[start : end+1], true
	}
	if m := arraySpanRe.FindString(text[start:]); m != "" {
		return m, true
	}
	return "", false
}

func balancedEnd(text string, start int) (int, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// ParseArray strictly parses span as a JSON array and returns it compacted.
func ParseArray(span string) (json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(span), &elems); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(span)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Extract turns a model reply into a success result.
func Extract(c Completion) (*AnalysisResult, error) {
	span, ok := FindArraySpan(c.Content)
	if !ok {
		return nil, ExtractionFailure(c.Content)
	}
	data, err := ParseArray(span)
	if err != nil {
		return nil, ParseFailure(c.Content, err)
	}
	return &AnalysisResult{
		Success: true,
		Data:    data,
		Usage:   c.Usage,
	}, nil
}
