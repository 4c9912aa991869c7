package rpc

import (
	"reflect"
	"testing"
)

func feedAll(t *testing.T, f *Framer, chunks ...string) []string {
	t.Helper()
	var got []string
	for _, c := range chunks {
		for _, line := range f.Feed([]byte(c)) {
			got = append(got, string(line))
		}
	}
	return got
}

func TestFramer_SingleChunk(t *testing.T) {
	var f Framer
	got := feedAll(t, &f, "{\"a\":1}\n{\"b\":2}\n")
	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFramer_SplitAcrossChunks(t *testing.T) {
	// The same byte stream split arbitrarily must yield the same lines.
	stream := "{\"id\":1,\"method\":\"tools/call\"}\r\n\n{\"id\":2}\n{\"id\":"
	want := []string{`{"id":1,"method":"tools/call"}`, `{"id":2}`}

	for size := 1; size <= len(stream); size++ {
		var f Framer
		var chunks []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			chunks = append(chunks, stream[i:end])
		}
		got := feedAll(t, &f, chunks...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunk size %d: got %v, want %v", size, got, want)
		}
		if f.Buffered() == 0 {
			t.Fatalf("chunk size %d: expected partial line to stay buffered", size)
		}
	}
}

func TestFramer_PartialLineHeldUntilComplete(t *testing.T) {
	var f Framer
	if lines := f.Feed([]byte(`{"id":`)); len(lines) != 0 {
		t.Fatalf("partial line emitted early: %v", lines)
	}
	lines := f.Feed([]byte("7}\n"))
	if len(lines) != 1 || string(lines[0]) != `{"id":7}` {
		t.Errorf("expected completed line, got %v", lines)
	}
	if f.Buffered() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", f.Buffered())
	}
}

func TestFramer_EmptyLinesDropped(t *testing.T) {
	var f Framer
	got := feedAll(t, &f, "\n\r\n{\"x\":1}\n\n")
	want := []string{`{"x":1}`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFramer_Reset(t *testing.T) {
	var f Framer
	f.Feed([]byte(`{"partial":`))
	f.Reset()
	if f.Buffered() != 0 {
		t.Errorf("expected empty buffer after reset, got %d", f.Buffered())
	}
	// The stale prefix must not corrupt the next line.
	lines := f.Feed([]byte("{\"y\":2}\n"))
	if len(lines) != 1 || string(lines[0]) != `{"y":2}` {
		t.Errorf("expected clean line after reset, got %v", lines)
	}
}
