package query

import (
	"time"

	"github.com/poiesic/ragqa/core"
)

// Stage is a timed step of answering a question.
type Stage int

const (
	StageEmbedding Stage = iota
	StageRetrieval
	StageGeneration
)

// Recorder produces per-question metrics. Nothing is retained between questions.
type Recorder struct {
	now func() time.Time
}

// NewRecorder returns a Recorder reading time from now.
// A nil now uses time.Now.
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Measurement accumulates stage timings for one question.
type Measurement struct {
	now     func() time.Time
	metrics core.QueryMetrics
}

// Begin starts a new measurement.
func (r *Recorder) Begin() *Measurement {
	return &Measurement{now: r.now}
}

// Time runs fn and records its duration against stage.
func (m *Measurement) Time(stage Stage, fn func() error) error {
	start := m.now()
	err := fn()
	elapsed := m.now().Sub(start)

	switch stage {
	case StageEmbedding:
		m.metrics.EmbeddingLatency += elapsed
	case StageRetrieval:
		m.metrics.RetrievalLatency += elapsed
	case StageGeneration:
		m.metrics.GenerationLatency += elapsed
	}
	return err
}

// Finish returns the metrics for the retained chunk scores. The similarity
// aggregates stay nil when scores is empty.
func (m *Measurement) Finish(scores []float32) core.QueryMetrics {
	out := m.metrics
	out.TotalLatency = out.EmbeddingLatency + out.RetrievalLatency + out.GenerationLatency
	out.ChunksRetrieved = len(scores)
	out.Timestamp = m.now()

	if len(scores) == 0 {
		return out
	}

	var sum float64
	lo, hi := scores[0], scores[0]
	for _, s := range scores {
		sum += float64(s)
		lo = min(lo, s)
		hi = max(hi, s)
	}
	avg := float32(sum / float64(len(scores)))
	out.AvgSimilarity = &avg
	out.MaxSimilarity = &hi
	out.MinSimilarity = &lo
	return out
}
