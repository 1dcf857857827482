package sse

import (
	"strings"
	"testing"
)

func TestFeedEmitsCompleteEventOnBlankLine(t *testing.T) {
	var got []Event
	p := &Parser{}
	err := p.Feed([]byte("event: message\ndata: hello\n\n"), func(e Event) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Type != "message" || got[0].Data != "hello" {
		t.Fatalf("unexpected event: %+v", got[0])
	}
}

func TestFeedAccumulatesMultipleDataLines(t *testing.T) {
	var got []Event
	p := &Parser{}
	err := p.Feed([]byte("data: line1\ndata: line2\n\n"), func(e Event) {
		got = append(got, e)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Data != "line1\nline2" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestFeedHandlesPartialInputAcrossCalls(t *testing.T) {
	var got []Event
	p := &Parser{}
	callback := func(e Event) { got = append(got, e) }

	if err := p.Feed([]byte("data: par"), callback); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events yet from partial input, got %d", len(got))
	}
	if err := p.Feed([]byte("tial\n\n"), callback); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Data != "partial" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestFeedStripsTrailingCR(t *testing.T) {
	var got []Event
	p := &Parser{}
	if err := p.Feed([]byte("data: x\r\n\r\n"), func(e Event) { got = append(got, e) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Data != "x" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestFeedIgnoresCommentLines(t *testing.T) {
	var got []Event
	p := &Parser{}
	if err := p.Feed([]byte(": this is a comment\ndata: real\n\n"), func(e Event) { got = append(got, e) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Data != "real" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestFeedIgnoresUnknownFields(t *testing.T) {
	var got []Event
	p := &Parser{}
	if err := p.Feed([]byte("id: 123\ndata: real\n\n"), func(e Event) { got = append(got, e) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Data != "real" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestResetDiscardsPartialState(t *testing.T) {
	p := &Parser{}
	var got []Event
	_ = p.Feed([]byte("data: half"), func(e Event) { got = append(got, e) })
	p.Reset()
	_ = p.Feed([]byte("data: fresh\n\n"), func(e Event) { got = append(got, e) })

	if len(got) != 1 || got[0].Data != "fresh" {
		t.Fatalf("expected only the post-reset event, got %+v", got)
	}
}

func TestFeedOverflowsOnOversizedIncompleteEvent(t *testing.T) {
	p := &Parser{}
	big := "data: " + strings.Repeat("x", MaxBufferSize+1)
	err := p.Feed([]byte(big), func(Event) {})
	if err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestFeedNoCallbackForEmptyEventWithNoFields(t *testing.T) {
	var got []Event
	p := &Parser{}
	if err := p.Feed([]byte("\n\n\n"), func(e Event) { got = append(got, e) }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no events for blank-only input, got %d", len(got))
	}
}
