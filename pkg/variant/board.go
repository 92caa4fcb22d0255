package variant

import (
	"fmt"
	"sort"
	"strings"

	"github.com/teslashibe/go-edgecam/pkg/memory"
)

// TierSpec is one memory tier of a board.
type TierSpec struct {
	Name     string `yaml:"name" json:"name"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// Board describes the memory layout and serial settings of a target.
type Board struct {
	Name string

	// Tiers in preference order, fastest first.
	Tiers []TierSpec

	// ArenaTiers orders the tiers tried for the tensor arena. Empty means
	// Tiers order.
	ArenaTiers []string

	// BufferTiers orders the tiers tried for pipeline buffers.
	BufferTiers []string

	// Align pads arena allocations to this boundary.
	Align int

	// Baud is the harness serial speed in performance mode, EnergyBaud in
	// energy mode.
	Baud       int
	EnergyBaud int

	// Camera reports whether the board has a camera attached.
	Camera bool

	arenas map[ID]int
}

const (
	kib = 1024
	mib = 1024 * 1024
)

var boards = map[string]Board{
	"esp32-cam": {
		Name:        "esp32-cam",
		Tiers:       []TierSpec{{"sram", 160 * kib}, {"psram", 4 * mib}},
		ArenaTiers:  []string{"psram"},
		BufferTiers: []string{"psram"},
		Baud:        115200,
		EnergyBaud:  9600,
		Camera:      true,
		arenas:      map[ID]int{Person: 160 * kib},
	},
	"esp32-s3": {
		Name:       "esp32-s3",
		Tiers:      []TierSpec{{"sram", 320 * kib}, {"psram", 8 * mib}},
		Baud:       115200,
		EnergyBaud: 9600,
		arenas: map[ID]int{
			IC01:    200 * kib,
			KWS01:   150 * kib,
			VWW01:   300 * kib,
			AD01:    100 * kib,
			STRWW01: 100 * kib,
		},
	},
	"esp32-wroom-32": {
		Name:       "esp32-wroom-32",
		Tiers:      []TierSpec{{"sram", 280 * kib}},
		Baud:       115200,
		EnergyBaud: 9600,
		arenas: map[ID]int{
			IC01:    110 * kib,
			KWS01:   100 * kib,
			VWW01:   200 * kib,
			AD01:    50 * kib,
			STRWW01: 30 * kib,
		},
	},
	"arduino-giga": {
		Name:       "arduino-giga",
		Tiers:      []TierSpec{{"sram", 1 * mib}, {"sdram", 8 * mib}},
		Align:      16,
		Baud:       115200,
		EnergyBaud: 9600,
		arenas: map[ID]int{
			IC01:    1024 * kib,
			KWS01:   100 * kib,
			VWW01:   350 * kib,
			AD01:    100 * kib,
			STRWW01: 100 * kib,
		},
	},
	// host runs everything in process memory with generous tiers.
	"host": {
		Name:       "host",
		Tiers:      []TierSpec{{"sram", 4 * mib}, {"heap", 256 * mib}},
		Baud:       115200,
		EnergyBaud: 9600,
		Camera:     true,
	},
}

// LookupBoard returns the named board, case-insensitively.
func LookupBoard(name string) (Board, error) {
	b, ok := boards[strings.ToLower(name)]
	if !ok {
		return Board{}, fmt.Errorf("variant: unknown board %q (have %s)", name, strings.Join(Boards(), ", "))
	}
	return b, nil
}

// Boards lists known board names in sorted order.
func Boards() []string {
	out := make([]string, 0, len(boards))
	for name := range boards {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ArenaSize returns the arena size for v on this board.
func (b Board) ArenaSize(v Variant) int {
	if n, ok := b.arenas[v.ID]; ok {
		return n
	}
	return v.DefaultArena
}

// NewTiers builds fresh memory pools for the board, padded to its
// alignment.
func (b Board) NewTiers() []memory.Tier {
	tiers := make([]memory.Tier, 0, len(b.Tiers))
	for _, ts := range b.Tiers {
		var opts []memory.PoolOption
		if b.Align > 1 {
			opts = append(opts, memory.WithAlignment(b.Align))
		}
		tiers = append(tiers, memory.NewPool(ts.Name, ts.Capacity, opts...))
	}
	return tiers
}

// ArenaRegion returns the arena region for v.
func (b Board) ArenaRegion(v Variant) memory.Region {
	return memory.Region{Name: memory.RegionArena, Size: b.ArenaSize(v), Tiers: b.ArenaTiers}
}

// WithBufferTiers applies the board's buffer tier preference to regions.
func (b Board) WithBufferTiers(regions []memory.Region) []memory.Region {
	out := make([]memory.Region, len(regions))
	for i, r := range regions {
		if len(r.Tiers) == 0 {
			r.Tiers = b.BufferTiers
		}
		out[i] = r
	}
	return out
}
