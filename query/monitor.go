package query

import (
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
)

// Monitor provides hooks to observe the answering process.
// Implement this interface to track intermediate steps and results of Ask.
// Hooks are called from the goroutine doing the work, which may outlive the caller.
type Monitor interface {
	Start(question string, topK int)
	AfterRetrieval(hits []index.Hit)
	AfterThreshold(kept []index.Hit)
	AfterGeneration(answer string)
	Finish(result *core.QueryResult)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string, _ int)        {}
func (n *noopMonitor) AfterRetrieval(_ []index.Hit) {}
func (n *noopMonitor) AfterThreshold(_ []index.Hit) {}
func (n *noopMonitor) AfterGeneration(_ string)     {}
func (n *noopMonitor) Finish(_ *core.QueryResult)   {}
