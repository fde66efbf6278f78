// ABOUTME: Line-oriented SSE decoder yielding one Event per data line
// ABOUTME: Malformed lines become DecodeErrors that are counted and dropped

package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Event is one decoded data line and the event type in effect for it.
type Event struct {
	Type string
	Data json.RawMessage
}

// DecodeError describes a line the decoder dropped.
type DecodeError struct {
	Line      int
	EventType string
	Text      string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("line %d (event %q): %v", e.Line, e.EventType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

var (
	// ErrInvalidJSON marks a data line whose payload is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON payload")
	// ErrUnknownLine marks a non-blank line with neither prefix.
	ErrUnknownLine = errors.New("unrecognized line")

	// errNoEvent means the line was consumed without producing an event.
	errNoEvent = errors.New("no event")
)

const maxErrorText = 120

// Decoder reads SSE lines from r. It is not safe for concurrent use and
// cannot be restarted once it returns io.EOF.
type Decoder struct {
	r         *bufio.Reader
	eventType string
	line      int
	discarded int
	done      bool

	// OnDiscard, when set, is called for every dropped line.
	OnDiscard func(*DecodeError)
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF once the stream ends and
// ctx.Err() if ctx is done before the next line is read.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	for {
		if d.done {
			return Event{}, io.EOF
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		default:
		}

		line, readErr := d.r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return Event{}, fmt.Errorf("reading event stream: %w", readErr)
		}
		if readErr == io.EOF {
			d.done = true
			if line == "" {
				return Event{}, io.EOF
			}
		}
		d.line++

		ev, err := d.decodeLine(strings.TrimRight(line, "\r\n"))
		if err == nil {
			return ev, nil
		}
		var de *DecodeError
		if errors.As(err, &de) {
			d.discarded++
			if d.OnDiscard != nil {
				d.OnDiscard(de)
			}
		}
	}
}

// decodeLine handles one line. It returns an Event, errNoEvent for lines
// that carry no payload, or a *DecodeError.
func (d *Decoder) decodeLine(line string) (Event, error) {
	switch {
	case line == "" || strings.HasPrefix(line, ":"):
		return Event{}, errNoEvent

	case strings.HasPrefix(line, "event:"):
		d.eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		return Event{}, errNoEvent

	case strings.HasPrefix(line, "data:"):
		data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		if !json.Valid([]byte(data)) {
			return Event{}, d.lineError(line, ErrInvalidJSON)
		}
		return Event{Type: d.eventType, Data: json.RawMessage(data)}, nil

	case strings.HasPrefix(line, "id:"), strings.HasPrefix(line, "retry:"):
		return Event{}, errNoEvent

	default:
		return Event{}, d.lineError(line, ErrUnknownLine)
	}
}

func (d *Decoder) lineError(line string, err error) *DecodeError {
	if len(line) > maxErrorText {
		line = line[:maxErrorText]
	}
	return &DecodeError{Line: d.line, EventType: d.eventType, Text: line, Err: err}
}

// Discarded returns how many lines have been dropped so far.
func (d *Decoder) Discarded() int {
	return d.discarded
}
