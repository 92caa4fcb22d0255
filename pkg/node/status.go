package node

import (
	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/memory"
	"github.com/teslashibe/go-edgecam/pkg/task"
)

// subscriberBuffer is the per-subscriber channel depth. Slow subscribers
// drop detections rather than stall inference.
const subscriberBuffer = 8

func (n *Node) publish(d Detection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.latest = d
	n.hasLatest = true
	for ch := range n.subscribers {
		select {
		case ch <- d:
		default:
		}
	}
}

// Latest returns the most recent detection, if any.
func (n *Node) Latest() (Detection, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.latest, n.hasLatest
}

// Subscribe returns a channel of detections and a cancel func.
func (n *Node) Subscribe() (<-chan Detection, func()) {
	ch := make(chan Detection, subscriberBuffer)
	n.mu.Lock()
	n.subscribers[ch] = struct{}{}
	n.mu.Unlock()

	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subscribers[ch]; ok {
			delete(n.subscribers, ch)
			close(ch)
		}
	}
}

// Status is a snapshot for the status API.
type Status struct {
	Variant   string              `json:"variant"`
	Engine    string              `json:"engine"`
	Device    string              `json:"device"`
	Lock      capture.LockStats   `json:"lock"`
	Inference task.Stats          `json:"inference"`
	Regions   []memory.RegionInfo `json:"regions"`
	Latest    *Detection          `json:"latest,omitempty"`
}

// Status returns current counters.
func (n *Node) Status() Status {
	s := Status{
		Variant: string(n.cfg.Variant.ID),
		Engine:  n.engine.Name(),
		Device:  n.device.Name(),
	}
	if l, ok := n.lock.(interface{ Stats() capture.LockStats }); ok {
		s.Lock = l.Stats()
	}
	if n.inference != nil {
		s.Inference = n.inference.Stats()
	}
	if n.buffers != nil {
		s.Regions = n.buffers.Regions()
	}
	if d, ok := n.Latest(); ok {
		s.Latest = &d
	}
	return s
}
