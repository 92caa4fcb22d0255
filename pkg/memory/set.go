package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Standard region names.
const (
	RegionInput   = "input"
	RegionDecoded = "decoded"
	RegionResized = "resized"
	RegionArena   = "arena"
)

// Region describes one buffer to place.
type Region struct {
	Name string `yaml:"name" json:"name"`
	Size int    `yaml:"size" json:"size"`

	// Tiers optionally restricts and reorders the tiers tried for this
	// region, by tier name. Empty means every tier in the order given to
	// AllocateAll.
	Tiers []string `yaml:"tiers,omitempty" json:"tiers,omitempty"`
}

type allocation struct {
	region Region
	tier   Tier
	buf    []byte
}

// Set is the result of a successful AllocateAll. All regions live until
// Release.
type Set struct {
	logger *slog.Logger

	mu       sync.Mutex
	order    []allocation
	byName   map[string]int
	released bool
}

// AllocateAll places every region, in order, on the first tier that accepts
// it. If any region cannot be placed, everything placed so far is freed in
// reverse order and an *AllocError is returned, so on failure nothing stays
// allocated.
func AllocateAll(tiers []Tier, regions []Region, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(tiers) == 0 {
		return nil, errors.New("memory: no tiers")
	}

	byTier := make(map[string]Tier, len(tiers))
	for _, t := range tiers {
		byTier[t.Name()] = t
	}

	s := &Set{
		logger: logger,
		byName: make(map[string]int, len(regions)),
	}

	for _, r := range regions {
		if _, dup := s.byName[r.Name]; dup {
			s.unwind()
			return nil, fmt.Errorf("memory: duplicate region %q", r.Name)
		}

		candidates := tiers
		if len(r.Tiers) > 0 {
			candidates = candidates[:0:0]
			for _, name := range r.Tiers {
				if t, ok := byTier[name]; ok {
					candidates = append(candidates, t)
				}
			}
		}

		aerr := &AllocError{Region: r.Name, Size: r.Size}
		var placed bool
		for _, t := range candidates {
			buf, err := t.Alloc(r.Size)
			if err != nil {
				aerr.Tried = append(aerr.Tried, t.Name())
				aerr.Causes = append(aerr.Causes, err)
				logger.Debug("tier refused region", "region", r.Name, "tier", t.Name(), "error", err)
				continue
			}
			s.byName[r.Name] = len(s.order)
			s.order = append(s.order, allocation{region: r, tier: t, buf: buf})
			logger.Debug("placed region", "region", r.Name, "size", r.Size, "tier", t.Name())
			placed = true
			break
		}

		if !placed {
			logger.Error("region allocation failed", "region", r.Name, "size", r.Size, "tried", aerr.Tried)
			s.unwind()
			return nil, aerr
		}
	}

	logger.Info("buffers allocated", "regions", len(s.order), "placement", s.Placement())
	return s, nil
}

// unwind frees allocations newest first. It is the only release path.
func (s *Set) unwind() {
	for i := len(s.order) - 1; i >= 0; i-- {
		a := s.order[i]
		if err := a.tier.Free(a.buf); err != nil {
			s.logger.Warn("free failed", "region", a.region.Name, "tier", a.tier.Name(), "error", err)
		}
	}
	s.order = nil
	s.byName = map[string]int{}
}

// Buffer returns the named region.
func (s *Set) Buffer(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
	}
	return s.order[i].buf, nil
}

// Placement maps each region to the tier holding it.
func (s *Set) Placement() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.order))
	for _, a := range s.order {
		out[a.region.Name] = a.tier.Name()
	}
	return out
}

// RegionInfo describes one placed region.
type RegionInfo struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Tier string `json:"tier"`
}

// Regions returns placed regions in allocation order.
func (s *Set) Regions() []RegionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegionInfo, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, RegionInfo{Name: a.region.Name, Size: a.region.Size, Tier: a.tier.Name()})
	}
	return out
}

// TierUsage sums placed bytes per tier, sorted by tier name.
func (s *Set) TierUsage() []RegionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := make(map[string]int)
	for _, a := range s.order {
		sums[a.tier.Name()] += a.region.Size
	}
	out := make([]RegionInfo, 0, len(sums))
	for name, size := range sums {
		out = append(out, RegionInfo{Tier: name, Size: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out
}

// Release frees every region. It is safe to call more than once.
func (s *Set) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.unwind()
}
