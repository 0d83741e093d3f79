package evidence

import (
	"sync"

	"github.com/solwatch/sentinel/internal/model"
)

// correlationIndex tracks deduplicated group-correlation edges per
// (GroupA, GroupB, Token, Date) (§3). A single lock is sufficient here —
// the index is small relative to the mention stores it is derived from.
type correlationIndex struct {
	mu    sync.Mutex
	edges map[string]model.GroupCorrelationEdge
}

func newCorrelationIndex() *correlationIndex {
	return &correlationIndex{
		edges: make(map[string]model.GroupCorrelationEdge),
	}
}

// add normalizes the unordered group pair, dedups on (groupA, groupB,
// token, date) and returns the edge plus whether it was newly created.
func (c *correlationIndex) add(groupA, groupB, token string, timeDiffSeconds int64, date string) (model.GroupCorrelationEdge, bool) {
	if groupB < groupA {
		groupA, groupB = groupB, groupA
		timeDiffSeconds = -timeDiffSeconds
	}
	key := groupA + "|" + groupB + "|" + token + "|" + date

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.edges[key]; ok {
		return existing, false
	}

	edge := model.GroupCorrelationEdge{
		GroupA:          groupA,
		GroupB:          groupB,
		Token:           token,
		TimeDiffSeconds: timeDiffSeconds,
		Date:            date,
	}
	c.edges[key] = edge
	return edge, true
}

func (c *correlationIndex) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.edges)
}
