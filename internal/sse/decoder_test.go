package sse

import (
	"testing"
)

func TestDecoder_SingleFrame(t *testing.T) {
	var d Decoder
	evs := d.Feed([]byte("event: chunk\ndata: {\"delta\":\"hi\"}\n\n"))
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Name != "chunk" || evs[0].Data != "{\"delta\":\"hi\"}" {
		t.Fatalf("unexpected event %+v", evs[0])
	}
}

func TestDecoder_SplitAcrossReads(t *testing.T) {
	raw := "event: chunk\ndata: {\"delta\":\"Hel\"}\n\nevent: chunk\ndata: {\"delta\":\"lo\"}\n\n"

	// feed one byte at a time; frame boundaries must not matter
	var d Decoder
	var got []Event
	for i := 0; i < len(raw); i++ {
		got = append(got, d.Feed([]byte{raw[i]})...)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Data != "{\"delta\":\"Hel\"}" || got[1].Data != "{\"delta\":\"lo\"}" {
		t.Fatalf("unexpected events %+v", got)
	}
	if d.Pending() {
		t.Fatal("no partial frame should remain")
	}
}

func TestDecoder_CRLFBoundaries(t *testing.T) {
	var d Decoder
	evs := d.Feed([]byte("event: status\r\ndata: {}\r\n\r\n"))
	if len(evs) != 1 || evs[0].Name != "status" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestDecoder_CommentsIgnored(t *testing.T) {
	var d Decoder
	evs := d.Feed([]byte(": heartbeat\n\nevent: status\ndata: {}\n\n: heartbeat\n\n"))
	if len(evs) != 1 || evs[0].Name != "status" {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestDecoder_MultiLineData(t *testing.T) {
	var d Decoder
	evs := d.Feed([]byte("event: chunk\ndata: line1\ndata: line2\n\n"))
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].Data != "line1\nline2" {
		t.Fatalf("unexpected data %q", evs[0].Data)
	}
}

func TestDecoder_FlushRecoversTrailingFrame(t *testing.T) {
	var d Decoder
	if evs := d.Feed([]byte("event: complete\ndata: {\"ok\":true}")); len(evs) != 0 {
		t.Fatalf("unterminated frame must not surface yet: %+v", evs)
	}
	ev, ok := d.Flush()
	if !ok {
		t.Fatal("expected trailing frame on flush")
	}
	if ev.Name != "complete" || ev.Data != "{\"ok\":true}" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, ok := d.Flush(); ok {
		t.Fatal("second flush must be empty")
	}
}

func TestDecoder_EmptyFlush(t *testing.T) {
	var d Decoder
	if _, ok := d.Flush(); ok {
		t.Fatal("flush of empty decoder must report nothing")
	}
}
