package natsadapter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/samirrijal/georef/internal/core/domain"
)

func TestSubjects(t *testing.T) {
	if got := Subject("abc", domain.EventTransformed); got != "georef.session.abc.transformed" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := SessionWildcard("abc"); got != "georef.session.abc.>" {
		t.Errorf("unexpected wildcard %q", got)
	}
	if AllSessions != "georef.session.>" {
		t.Errorf("unexpected catch-all subject %q", AllSessions)
	}
}

func TestDecodeEvent(t *testing.T) {
	in := domain.SessionEvent{
		SessionID: "abc",
		Kind:      domain.EventTransformed,
		Scale:     2,
		Rotation:  90,
		Skipped:   1,
		Time:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.SessionID != "abc" || ev.Scale != 2 || ev.Rotation != 90 || !ev.Time.Equal(in.Time) {
		t.Errorf("unexpected event %+v", ev)
	}

	if _, err := DecodeEvent([]byte("{")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
