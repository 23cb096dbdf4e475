package voice

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (f *fakeClock) now() time.Time {
	f.t = f.t.Add(f.step)
	return f.t
}

func newTestCollector(step time.Duration) *Collector {
	c := NewCollector()
	clock := &fakeClock{t: time.Unix(1700000000, 0), step: step}
	c.now = clock.now
	return c
}

func TestTurnStages(t *testing.T) {
	c := newTestCollector(10 * time.Millisecond)

	turn := c.Begin("I feel anxious")
	turn.Mark(StagePrompt)
	turn.Mark(StageCompletion)
	turn.Mark(StageSpeech)
	turn.Mark(StageBroadcast)
	turn.SetReply("Breathe.")
	turn.SetAudio(2048)
	m := c.Finish(turn, nil)

	for s := StagePrompt; s <= StageBroadcast; s++ {
		if m.Latency(s) != 10*time.Millisecond {
			t.Errorf("%s latency = %v, want 10ms", s, m.Latency(s))
		}
	}
	if m.Total != 50*time.Millisecond {
		t.Errorf("Total = %v, want 50ms", m.Total)
	}
	if m.TextChars != len("I feel anxious") || m.ReplyChars != 8 || m.AudioBytes != 2048 {
		t.Errorf("unexpected sizes: %+v", m)
	}
	if m.Failed() {
		t.Error("turn should not be failed")
	}
}

func TestFinishWithError(t *testing.T) {
	c := newTestCollector(time.Millisecond)

	turn := c.Begin("hello")
	turn.Mark(StagePrompt)
	m := c.Finish(turn, errors.New("completion: timeout"))

	if !m.Failed() || m.Err != "completion: timeout" {
		t.Errorf("Err = %q", m.Err)
	}
	if m.Latency(StageCompletion) != 0 {
		t.Error("unfinished stage should be zero")
	}

	handled, failed := c.Counts()
	if handled != 1 || failed != 1 {
		t.Errorf("counts = %d/%d, want 1/1", handled, failed)
	}
	if avg := c.Average(); avg.Total != 0 {
		t.Errorf("failed turns should not count toward average, got %v", avg.Total)
	}
}

func TestAverage(t *testing.T) {
	c := newTestCollector(time.Millisecond)

	for i := 0; i < 3; i++ {
		turn := c.Begin("x")
		turn.Mark(StagePrompt)
		c.Finish(turn, nil)
	}

	avg := c.Average()
	if avg.Latency(StagePrompt) != time.Millisecond {
		t.Errorf("avg prompt = %v", avg.Latency(StagePrompt))
	}
	if avg.Total != 2*time.Millisecond {
		t.Errorf("avg total = %v", avg.Total)
	}

	snap := c.Snapshot()
	if snap.Handled != 3 || snap.Failed != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestHistoryBounded(t *testing.T) {
	c := newTestCollector(time.Millisecond)
	for i := 0; i < HistorySize+5; i++ {
		c.Finish(c.Begin("x"), nil)
	}
	if len(c.history) != HistorySize {
		t.Errorf("history = %d, want %d", len(c.history), HistorySize)
	}
	if handled, _ := c.Counts(); handled != HistorySize+5 {
		t.Errorf("handled = %d", handled)
	}
}

func TestOnUpdate(t *testing.T) {
	c := newTestCollector(time.Millisecond)
	got := make(chan Metrics, 1)
	c.OnUpdate(func(m Metrics) { got <- m })

	c.Finish(c.Begin("hi"), nil)

	select {
	case m := <-got:
		if m.TextChars != 2 {
			t.Errorf("TextChars = %d", m.TextChars)
		}
	case <-time.After(time.Second):
		t.Fatal("OnUpdate not called")
	}
}

func TestFormatLatency(t *testing.T) {
	m := Metrics{Total: 1500 * time.Millisecond}
	m.Stages[StageCompletion] = 900 * time.Millisecond

	got := m.FormatLatency()
	if !strings.Contains(got, "900ms COMPLETION") || !strings.Contains(got, "1.5s TOTAL") {
		t.Errorf("FormatLatency() = %q", got)
	}
	if !strings.Contains(got, "---ms PROMPT") {
		t.Errorf("unset stage should render as ---ms: %q", got)
	}
}

func TestNilTurnSafe(t *testing.T) {
	var turn *Turn
	turn.Mark(StagePrompt)
	turn.SetReply("x")
	if turn.Metrics() != (Metrics{}) {
		t.Error("nil turn should report zero metrics")
	}
	if Stage(99).String() != "unknown" {
		t.Error("out of range stage should be unknown")
	}
}
