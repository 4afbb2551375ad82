package transcribe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/bubbles/internal/signal"
)

// scriptEngine plays back a fixed segment sequence.
type scriptEngine struct{ ch chan Segment }

func newScriptEngine(segs ...Segment) *scriptEngine {
	ch := make(chan Segment, len(segs))
	for _, s := range segs {
		ch <- s
	}
	close(ch)
	return &scriptEngine{ch: ch}
}

func (e *scriptEngine) Segments() <-chan Segment { return e.ch }
func (e *scriptEngine) Close() error             { return nil }

// capturePublisher records published captions.
type capturePublisher struct {
	mu   sync.Mutex
	caps []signal.Caption
}

func (p *capturePublisher) PublishCaption(_ context.Context, cap *signal.Caption) {
	p.mu.Lock()
	p.caps = append(p.caps, *cap)
	p.mu.Unlock()
}

func TestBridgeRelaysAndPersistsFinals(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer st.Close()

	eng := newScriptEngine(
		Segment{Text: "hel"},
		Segment{Text: "hello", Final: true},
		Segment{Text: ""}, // blank hypotheses are dropped
		Segment{Text: "world", Final: true},
	)
	pub := &capturePublisher{}

	NewBridge(eng, pub, st, "A1", "u1", "Alice").Run(ctx)

	pub.mu.Lock()
	caps := pub.caps
	pub.mu.Unlock()
	if len(caps) != 3 {
		t.Fatalf("published = %d captions, want 3", len(caps))
	}
	if caps[0].Final || caps[0].Seq != 0 {
		t.Fatalf("interim = %+v", caps[0])
	}
	if !caps[1].Final || caps[1].Seq != 1 {
		t.Fatalf("first final = %+v", caps[1])
	}
	if !caps[2].Final || caps[2].Seq != 2 {
		t.Fatalf("second final = %+v", caps[2])
	}

	// Only finals reach the transcript log.
	lines, err := st.Lines(ctx, "A1")
	if err != nil {
		t.Fatalf("Lines: %v", err)
	}
	if len(lines) != 2 || lines[0].Text != "hello" || lines[1].Text != "world" {
		t.Fatalf("persisted = %+v", lines)
	}
}

func TestBridgeWithoutStore(t *testing.T) {
	ctx := context.Background()
	eng := newScriptEngine(Segment{Text: "hi", Final: true})
	pub := &capturePublisher{}
	NewBridge(eng, pub, nil, "A1", "u1", "Alice").Run(ctx)
	if len(pub.caps) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.caps))
	}
}
