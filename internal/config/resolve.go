package config

import (
	"fmt"

	"github.com/teslashibe/go-edgecam/pkg/imgproc"
	"github.com/teslashibe/go-edgecam/pkg/memory"
	"github.com/teslashibe/go-edgecam/pkg/variant"
)

// Profile is the configuration resolved against the board and model
// tables. It is computed once at startup.
type Profile struct {
	Board     variant.Board
	Variant   variant.Variant
	ArenaSize int

	// Pipeline is set for vision variants only.
	Pipeline *imgproc.Config

	// Regions lists every buffer to allocate, arena last.
	Regions []memory.Region
}

// Baud returns the serial speed for the configured mode.
func (p Profile) Baud(energy bool) int {
	if energy {
		return p.Board.EnergyBaud
	}
	return p.Board.Baud
}

// Resolve looks up board and variant and derives buffer sizes.
func (c *Config) Resolve() (Profile, error) {
	b, err := variant.LookupBoard(c.Board)
	if err != nil {
		return Profile{}, err
	}
	v, err := variant.Lookup(c.Variant)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Board:     b,
		Variant:   v,
		ArenaSize: b.ArenaSize(v),
	}

	if v.Vision {
		if len(v.InputShape) != 4 {
			return Profile{}, fmt.Errorf("config: vision variant %s has shape %v", v.ID, v.InputShape)
		}
		pc := imgproc.Config{
			SrcWidth:    c.Capture.Width,
			SrcHeight:   c.Capture.Height,
			Format:      c.Capture.Format,
			ModelHeight: v.InputShape[1],
			ModelWidth:  v.InputShape[2],
			Channels:    v.InputShape[3],
		}
		if err := pc.Validate(); err != nil {
			return Profile{}, err
		}
		p.Pipeline = &pc
		p.Regions = b.WithBufferTiers(pc.Regions())
	}

	p.Regions = append(p.Regions, b.ArenaRegion(v))
	return p, nil
}
