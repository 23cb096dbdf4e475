package voice

import (
	"strings"
	"sync"
	"time"
)

// HistorySize is the number of finished turns kept for averaging.
const HistorySize = 100

// Stage is one step of the utterance pipeline.
type Stage int

const (
	StagePrompt Stage = iota
	StageCompletion
	StageSpeech
	StageBroadcast
	numStages
)

var stageNames = [numStages]string{"prompt", "completion", "speech", "broadcast"}

func (s Stage) String() string {
	if s < 0 || s >= numStages {
		return "unknown"
	}
	return stageNames[s]
}

// Metrics is the timing of one handled utterance.
type Metrics struct {
	Received time.Time
	Done     time.Time

	// Stages holds the latency of each stage, measured from the previous
	// mark. Zero means the stage never completed.
	Stages [numStages]time.Duration

	Total time.Duration

	TextChars  int
	ReplyChars int
	AudioBytes int

	// Err is the error that ended the turn, if any.
	Err string
}

// Latency returns the latency of one stage.
func (m Metrics) Latency(s Stage) time.Duration {
	if s < 0 || s >= numStages {
		return 0
	}
	return m.Stages[s]
}

// Failed reports whether the turn ended in an error.
func (m Metrics) Failed() bool {
	return m.Err != ""
}

// FormatLatency returns a one-line summary of the stage latencies.
func (m Metrics) FormatLatency() string {
	parts := make([]string, 0, numStages+1)
	for s := Stage(0); s < numStages; s++ {
		parts = append(parts, formatDuration(m.Stages[s])+" "+strings.ToUpper(s.String()))
	}
	parts = append(parts, formatDuration(m.Total)+" TOTAL")
	return strings.Join(parts, " | ")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}

// Turn records stage marks for one utterance. A Turn is owned by the
// goroutine processing the utterance and is not safe for concurrent use.
type Turn struct {
	metrics Metrics
	last    time.Time
	now     func() time.Time
}

// Mark records that a stage finished.
func (t *Turn) Mark(s Stage) {
	if t == nil || s < 0 || s >= numStages {
		return
	}
	now := t.now()
	t.metrics.Stages[s] = now.Sub(t.last)
	t.last = now
}

// SetReply records the response length.
func (t *Turn) SetReply(text string) {
	if t != nil {
		t.metrics.ReplyChars = len(text)
	}
}

// SetAudio records the synthesized audio size.
func (t *Turn) SetAudio(n int) {
	if t != nil {
		t.metrics.AudioBytes = n
	}
}

// Metrics returns the timing recorded so far.
func (t *Turn) Metrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	return t.metrics
}

// Collector aggregates finished turns. It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	history  []Metrics
	handled  int
	failed   int
	onUpdate func(Metrics)
	now      func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		history: make([]Metrics, 0, HistorySize),
		now:     time.Now,
	}
}

// OnUpdate sets a callback fired after each finished turn.
func (c *Collector) OnUpdate(fn func(Metrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Begin starts timing an utterance.
func (c *Collector) Begin(text string) *Turn {
	c.mu.Lock()
	now := c.now
	c.mu.Unlock()

	start := now()
	return &Turn{
		metrics: Metrics{Received: start, TextChars: len(text)},
		last:    start,
		now:     now,
	}
}

// Finish archives a turn. err is the error that stopped the pipeline, or
// nil if the reply was delivered.
func (c *Collector) Finish(t *Turn, err error) Metrics {
	if t == nil {
		return Metrics{}
	}
	m := t.metrics
	m.Done = t.now()
	m.Total = m.Done.Sub(m.Received)
	if err != nil {
		m.Err = err.Error()
	}

	c.mu.Lock()
	c.handled++
	if err != nil {
		c.failed++
	}
	c.history = append(c.history, m)
	if len(c.history) > HistorySize {
		c.history = c.history[1:]
	}
	fn := c.onUpdate
	c.mu.Unlock()

	if fn != nil {
		go fn(m)
	}
	return m
}

// Last returns the most recent finished turn.
func (c *Collector) Last() (Metrics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return Metrics{}, false
	}
	return c.history[len(c.history)-1], true
}

// Counts returns how many turns were handled and how many failed.
func (c *Collector) Counts() (handled, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handled, c.failed
}

// Average returns mean latencies over the successful turns in history.
func (c *Collector) Average() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	var avg Metrics
	n := 0
	for _, h := range c.history {
		if h.Failed() {
			continue
		}
		for s := range avg.Stages {
			avg.Stages[s] += h.Stages[s]
		}
		avg.Total += h.Total
		n++
	}
	if n == 0 {
		return Metrics{}
	}

	d := time.Duration(n)
	for s := range avg.Stages {
		avg.Stages[s] /= d
	}
	avg.Total /= d
	return avg
}

// Snapshot is a JSON-friendly summary of a collector.
type Snapshot struct {
	Handled     int   `json:"handled"`
	Failed      int   `json:"failed"`
	AvgTotalMs  int64 `json:"avgTotalMs"`
	LastTotalMs int64 `json:"lastTotalMs,omitempty"`
}

// Snapshot summarizes the collector.
func (c *Collector) Snapshot() Snapshot {
	handled, failed := c.Counts()
	s := Snapshot{
		Handled:    handled,
		Failed:     failed,
		AvgTotalMs: c.Average().Total.Milliseconds(),
	}
	if last, ok := c.Last(); ok {
		s.LastTotalMs = last.Total.Milliseconds()
	}
	return s
}
