// Package stream decodes the line-delimited event stream returned by the
// generation endpoint and extracts the signals embedded in its text.
package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "data: [DONE]"

	EventTypeContent = "content"
)

var errInvalidJSON = errors.New("invalid json")

// Event is one decoded fragment of generated text.
type Event struct {
	Type  string
	Value string
}

// ParseError describes a record line that could not be parsed. Decoding
// continues past it.
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stream record %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Decode consumes carry+chunk and returns the content events of every
// complete line plus the unterminated remainder, which the caller passes back
// as carry on the next call.
func Decode(carry, chunk string) ([]Event, string) {
	events, rest, _ := DecodeWithDiagnostics(carry, chunk)
	return events, rest
}

// DecodeWithDiagnostics is Decode that also reports the lines it skipped.
func DecodeWithDiagnostics(carry, chunk string) ([]Event, string, []*ParseError) {
	lines := strings.Split(carry+chunk, "\n")
	rest := lines[len(lines)-1]

	var events []Event
	var diags []*ParseError
	for _, raw := range lines[:len(lines)-1] {
		line := strings.TrimSpace(raw)
		if line == "" || line == doneSentinel {
			continue
		}
		payload, ok := strings.CutPrefix(line, dataPrefix)
		if !ok {
			continue
		}

		if !gjson.Valid(payload) {
			diags = append(diags, &ParseError{Line: line, Err: errInvalidJSON})
			continue
		}

		var chunk openai.ChatCompletionChunk
		if err := chunk.UnmarshalJSON([]byte(payload)); err != nil {
			diags = append(diags, &ParseError{Line: line, Err: err})
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			events = append(events, Event{Type: EventTypeContent, Value: content})
		}
	}
	return events, rest, diags
}
