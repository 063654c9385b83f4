package sse

import (
	"strings"
)

// Event is one decoded frame: the event name plus its raw data payload.
type Event struct {
	Name string
	Data string
}

// Decoder incrementally parses SSE frames out of an arbitrary byte stream.
// Feed may be called with reads split at any boundary, including mid-line;
// the trailing partial frame is carried across calls and recovered by Flush
// once the stream ends.
type Decoder struct {
	buf strings.Builder
}

// Feed appends raw bytes and returns every frame completed by them, in
// order. Comment lines (leading ':') are dropped, so heartbeats never
// surface as events.
func (d *Decoder) Feed(p []byte) []Event {
	d.buf.Write(p)
	data := d.buf.String()

	var events []Event
	for {
		idx := boundaryIndex(data)
		if idx.start < 0 {
			break
		}
		frame := data[:idx.start]
		data = data[idx.end:]
		if ev, ok := parseFrame(frame); ok {
			events = append(events, ev)
		}
	}

	d.buf.Reset()
	d.buf.WriteString(data)
	return events
}

// Flush parses any still-buffered trailing frame. Call once after the byte
// stream is exhausted so a final event missing its terminating blank line is
// not lost.
func (d *Decoder) Flush() (Event, bool) {
	rest := strings.TrimRight(d.buf.String(), "\r\n")
	d.buf.Reset()
	if rest == "" {
		return Event{}, false
	}
	return parseFrame(rest)
}

// Pending reports whether bytes of an incomplete frame are buffered.
func (d *Decoder) Pending() bool {
	return d.buf.Len() > 0
}

type boundary struct {
	start, end int
}

// boundaryIndex locates the first blank-line frame terminator, accepting
// both "\n\n" and "\r\n\r\n".
func boundaryIndex(s string) boundary {
	lf := strings.Index(s, "\n\n")
	crlf := strings.Index(s, "\r\n\r\n")
	switch {
	case lf < 0 && crlf < 0:
		return boundary{-1, -1}
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return boundary{crlf, crlf + 4}
	default:
		return boundary{lf, lf + 2}
	}
}

func parseFrame(frame string) (Event, bool) {
	var ev Event
	var data []string
	for _, line := range strings.Split(frame, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			// comment or padding
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if ev.Name == "" && len(data) == 0 {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
