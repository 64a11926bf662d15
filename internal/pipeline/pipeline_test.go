package pipeline

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/internal/models"
)

type stubAnalyzer struct {
	calls      int
	lastCur    []models.DataPoint
	lastHist   []models.DataPoint
	nextResult models.AnalysisResult
}

func (s *stubAnalyzer) Analyze(ctx context.Context, current, historical []models.DataPoint) models.AnalysisResult {
	s.calls++
	s.lastCur = current
	s.lastHist = historical
	return s.nextResult
}

func point(source string, v float64) models.DataPoint {
	return models.DataPoint{
		Source:    source,
		Metric:    "m",
		Value:     v,
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestIngestAssignsCycleIDAndRollsHistory(t *testing.T) {
	stub := &stubAnalyzer{}
	p := New(stub, 0, zap.NewNop())

	id1, err := p.Ingest(context.Background(), []models.DataPoint{point("crypto", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" {
		t.Fatal("cycle id must be assigned")
	}
	if len(stub.lastHist) != 0 {
		t.Errorf("first cycle should see empty history, got %d points", len(stub.lastHist))
	}

	id2, err := p.Ingest(context.Background(), []models.DataPoint{point("crypto", 2)})
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id1 {
		t.Error("cycle ids must be unique")
	}
	if len(stub.lastHist) != 1 || stub.lastHist[0].Value != 1 {
		t.Errorf("second cycle should see the first batch as history: %+v", stub.lastHist)
	}
	if got := p.History(); len(got) != 2 {
		t.Errorf("history = %d points, want 2", len(got))
	}
}

func TestHistoryBufferEvictsOldest(t *testing.T) {
	p := New(&stubAnalyzer{}, 3, zap.NewNop())

	batch := []models.DataPoint{point("a", 1), point("a", 2)}
	if _, err := p.Ingest(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Ingest(context.Background(), []models.DataPoint{point("a", 3), point("a", 4)}); err != nil {
		t.Fatal(err)
	}

	history := p.History()
	if len(history) != 3 {
		t.Fatalf("history = %d points, want the limit of 3", len(history))
	}
	if history[0].Value != 2 || history[2].Value != 4 {
		t.Errorf("oldest point should be evicted: %+v", history)
	}
}

func TestLatestTracksMostRecentCycle(t *testing.T) {
	stub := &stubAnalyzer{nextResult: models.AnalysisResult{TotalAnomalies: 3}}
	p := New(stub, 0, zap.NewNop())

	if p.Latest() != nil {
		t.Fatal("latest must be nil before the first cycle")
	}
	if _, err := p.Ingest(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	latest := p.Latest()
	if latest == nil || latest.TotalAnomalies != 3 {
		t.Errorf("latest = %+v", latest)
	}
	if latest.CycleID == "" {
		t.Error("latest must carry its cycle id")
	}
}

func TestSubscribeReceivesBroadcast(t *testing.T) {
	p := New(&stubAnalyzer{}, 0, zap.NewNop())
	ch := p.Subscribe()
	defer p.Unsubscribe(ch)

	id, err := p.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case result := <-ch:
		if result.CycleID != id {
			t.Errorf("received cycle %s, want %s", result.CycleID, id)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the cycle")
	}
}

func TestSlowSubscriberSeesOnlyLatest(t *testing.T) {
	p := New(&stubAnalyzer{}, 0, zap.NewNop())
	ch := p.Subscribe()
	defer p.Unsubscribe(ch)

	if _, err := p.Ingest(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	id2, err := p.Ingest(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}

	// The first result was displaced; only the newest remains.
	result := <-ch
	if result.CycleID != id2 {
		t.Errorf("slow subscriber got %s, want the latest %s", result.CycleID, id2)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected second buffered result: %s", extra.CycleID)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := New(&stubAnalyzer{}, 0, zap.NewNop())
	ch := p.Subscribe()
	p.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Error("unsubscribed channel must be closed")
	}
	// A second unsubscribe is a no-op, not a double close.
	p.Unsubscribe(ch)

	if _, err := p.Ingest(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzeHonorsCancellation(t *testing.T) {
	stub := &stubAnalyzer{}
	p := New(stub, 0, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Analyze(ctx, nil, nil); err == nil {
		t.Error("cancelled context must abort the cycle")
	}
	if stub.calls != 0 {
		t.Error("analyzer must not run after cancellation")
	}
}
