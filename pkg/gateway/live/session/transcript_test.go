package session

import (
	"testing"
	"time"
)

func TestTranscriptRecorderOrderAndRender(t *testing.T) {
	tr := newTranscriptRecorder(nil)

	tr.AppendUser("I had a rough day", "text")
	tr.AppendAssistant("That sounds hard. What made it rough?", "audio", map[string]string{"audio_id": "a1"})
	tr.AppendUser("mostly work", "audio")

	if got := tr.Count(); got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}

	want := "user: I had a rough day\nassistant: That sounds hard. What made it rough?\nuser: mostly work"
	if got := tr.Render(); got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}

	exchanges := tr.Snapshot()
	if exchanges[0].Role != "user" || exchanges[1].Role != "assistant" || exchanges[2].Role != "user" {
		t.Fatalf("roles out of order: %v %v %v", exchanges[0].Role, exchanges[1].Role, exchanges[2].Role)
	}
	if exchanges[1].Metadata["audio_id"] != "a1" {
		t.Fatalf("metadata = %v", exchanges[1].Metadata)
	}
	if exchanges[2].ContentType != "audio" {
		t.Fatalf("content type = %q", exchanges[2].ContentType)
	}
}

func TestTranscriptRecorderIgnoresBlankText(t *testing.T) {
	tr := newTranscriptRecorder(nil)
	tr.AppendUser("   ", "text")
	tr.AppendAssistant("", "audio", nil)
	if tr.Count() != 0 {
		t.Fatalf("count = %d, want 0", tr.Count())
	}
	if tr.Render() != "" {
		t.Fatalf("render = %q, want empty", tr.Render())
	}
}

func TestTranscriptRecorderTimestampsFromClock(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := newTranscriptRecorder(func() time.Time { return base })
	tr.AppendUser("hello", "text")

	if got := tr.Snapshot()[0].Timestamp; !got.Equal(base) {
		t.Fatalf("timestamp = %v, want %v", got, base)
	}
}
