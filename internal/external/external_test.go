package external

import "testing"

func TestChanInputSourceDeliversInSendOrder(t *testing.T) {
	src := NewChanInputSource(4)
	src.Send(Intent{Kind: IntentFocusNumber, N: 1})
	src.Send(Intent{Kind: IntentQuit})

	first := <-src.Intents()
	second := <-src.Intents()

	if first.Kind != IntentFocusNumber || first.N != 1 {
		t.Fatalf("first intent = %+v, want IntentFocusNumber{N:1}", first)
	}
	if second.Kind != IntentQuit {
		t.Fatalf("second intent = %+v, want IntentQuit", second)
	}
}

func TestMemoryLogSinkRecordsEveryWrite(t *testing.T) {
	sink := &MemoryLogSink{}
	sink.Write(DirectionInbound, 1, []byte(`{"method":"session/update"}`))
	sink.Write(DirectionOutbound, 1, []byte(`{"method":"session/prompt"}`))

	entries := sink.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Direction != DirectionInbound || entries[1].Direction != DirectionOutbound {
		t.Fatalf("unexpected directions: %+v", entries)
	}
}

func TestMemoryLogSinkCopiesRawBytes(t *testing.T) {
	sink := &MemoryLogSink{}
	raw := []byte("mutate-me")
	sink.Write(DirectionInbound, 1, raw)
	raw[0] = 'X'

	entries := sink.Entries()
	if string(entries[0].Raw) == string(raw) {
		t.Fatal("MemoryLogSink should copy raw bytes, not alias the caller's slice")
	}
	if string(entries[0].Raw) != "mutate-me" {
		t.Fatalf("recorded raw = %q, want %q", entries[0].Raw, "mutate-me")
	}
}
