package search

import (
	"iter"

	"github.com/poiesic/veridoc/core"
)

// RouteMonitor provides hooks to observe query routing.
// Implement this interface to track intermediate steps and results.
type RouteMonitor interface {
	Start(query string)
	AfterClassify(intent core.Intent)
	AfterSeedExtraction(seeds []*core.Entity)
	AfterGraphSearch(scores iter.Seq2[core.ID, float32])
	AfterVectorSearch(matches []*core.VectorMatch)
	Fallback(from, to core.RetrievalMode, reason string)
	Finish(result *Result)
}

// noopMonitor is a no-op implementation of RouteMonitor
type noopMonitor struct{}

var _ RouteMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                                  {}
func (n *noopMonitor) AfterClassify(_ core.Intent)                     {}
func (n *noopMonitor) AfterSeedExtraction(_ []*core.Entity)            {}
func (n *noopMonitor) AfterGraphSearch(_ iter.Seq2[core.ID, float32])  {}
func (n *noopMonitor) AfterVectorSearch(_ []*core.VectorMatch)         {}
func (n *noopMonitor) Fallback(_, _ core.RetrievalMode, _ string)      {}
func (n *noopMonitor) Finish(_ *Result)                                {}
