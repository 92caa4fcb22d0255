package imgproc

import (
	"fmt"
	"log/slog"

	"github.com/teslashibe/go-edgecam/pkg/capture"
	"github.com/teslashibe/go-edgecam/pkg/memory"
)

// Config describes the geometry of one pipeline.
type Config struct {
	SrcWidth    int                 `yaml:"src_width" json:"src_width"`
	SrcHeight   int                 `yaml:"src_height" json:"src_height"`
	Format      capture.PixelFormat `yaml:"format" json:"format"`
	ModelWidth  int                 `yaml:"model_width" json:"model_width"`
	ModelHeight int                 `yaml:"model_height" json:"model_height"`
	Channels    int                 `yaml:"channels" json:"channels"` // 1 (luma) or 3
}

// DefaultConfig is QVGA JPEG in, 96x96 grayscale out.
func DefaultConfig() Config {
	return Config{
		SrcWidth:    320,
		SrcHeight:   240,
		Format:      capture.FormatJPEG,
		ModelWidth:  96,
		ModelHeight: 96,
		Channels:    1,
	}
}

// Validate checks the geometry.
func (c *Config) Validate() error {
	if c.SrcWidth < 2 || c.SrcHeight < 2 {
		return fmt.Errorf("%w: source %dx%d", ErrSourceTooSmall, c.SrcWidth, c.SrcHeight)
	}
	if c.ModelWidth < 1 || c.ModelHeight < 1 {
		return fmt.Errorf("%w: model input %dx%d", ErrGeometry, c.ModelWidth, c.ModelHeight)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("%w: channels must be 1 or 3, got %d", ErrGeometry, c.Channels)
	}
	return nil
}

// InputSize is the quantized tensor size in bytes.
func (c Config) InputSize() int {
	return c.ModelWidth * c.ModelHeight * c.Channels
}

// Regions returns the buffers the pipeline needs, in allocation order.
func (c Config) Regions() []memory.Region {
	return []memory.Region{
		{Name: memory.RegionInput, Size: c.InputSize()},
		{Name: memory.RegionDecoded, Size: c.SrcWidth * c.SrcHeight * 3},
		{Name: memory.RegionResized, Size: c.ModelWidth * c.ModelHeight * 3},
	}
}

// Pipeline runs decode, resize and quantization for one frame at a time
// over buffers allocated once at startup. It is not safe for concurrent
// use; callers serialize through the capture lock.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	decoded []byte
	resized []byte
	input   []byte
}

// NewPipeline binds a pipeline to the regions in set.
func NewPipeline(cfg Config, set *memory.Set, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{cfg: cfg, logger: logger}
	bind := map[string]*[]byte{
		memory.RegionInput:   &p.input,
		memory.RegionDecoded: &p.decoded,
		memory.RegionResized: &p.resized,
	}
	for _, r := range cfg.Regions() {
		buf, err := set.Buffer(r.Name)
		if err != nil {
			return nil, err
		}
		if len(buf) < r.Size {
			return nil, fmt.Errorf("%w: region %s holds %d bytes, need %d", ErrGeometry, r.Name, len(buf), r.Size)
		}
		*bind[r.Name] = buf[:r.Size]
	}
	return p, nil
}

// Config returns the pipeline geometry.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Process fills the quantized input buffer from f.
func (p *Pipeline) Process(f *capture.Frame) error {
	if f.Width != p.cfg.SrcWidth || f.Height != p.cfg.SrcHeight {
		return fmt.Errorf("%w: frame %dx%d, pipeline expects %dx%d",
			ErrGeometry, f.Width, f.Height, p.cfg.SrcWidth, p.cfg.SrcHeight)
	}
	if err := Decode(p.decoded, f.Data, f.Format, f.Width, f.Height); err != nil {
		return err
	}
	if err := ResizeBilinear(p.resized, p.decoded,
		p.cfg.SrcWidth, p.cfg.SrcHeight, p.cfg.ModelWidth, p.cfg.ModelHeight, 3); err != nil {
		return err
	}
	if p.cfg.Channels == 1 {
		return ToSignedLuma(p.input, p.resized, p.cfg.ModelWidth*p.cfg.ModelHeight)
	}
	return ToSigned(p.input, p.resized)
}

// Run processes f and copies the result into tensor.
func (p *Pipeline) Run(f *capture.Frame, tensor []byte) error {
	if err := p.Process(f); err != nil {
		return err
	}
	return CopyToTensor(tensor, p.input)
}

// Input returns the quantized buffer from the last Process.
func (p *Pipeline) Input() []byte {
	return p.input
}

// Decoded returns the full resolution RGB888 buffer from the last Process.
func (p *Pipeline) Decoded() []byte {
	return p.decoded
}
