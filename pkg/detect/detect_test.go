package detect

import (
	"context"
	"errors"
	"testing"

	"github.com/teslashibe/go-edgecam/pkg/engine"
)

func newEngine(t *testing.T, target, complement int8) *engine.Mock {
	t.Helper()
	cfg := engine.DefaultMockConfig()
	m := engine.NewMock(cfg, nil)
	if err := m.Load(engine.MockModel(nil), cfg.RequiredOps); err != nil {
		t.Fatal(err)
	}
	if err := m.Allocate(make([]byte, m.ArenaUsed())); err != nil {
		t.Fatal(err)
	}
	m.InvokeFunc = func(ctx context.Context, in, out *engine.Tensor) error {
		out.Data[DefaultTargetIndex] = byte(target)
		out.Data[DefaultComplementIndex] = byte(complement)
		return nil
	}
	return m
}

func TestScoreResult_Present(t *testing.T) {
	tests := []struct {
		target, complement int8
		want               bool
	}{
		{51, -10, true},
		{50, 10, false},
		{-128, 127, false},
		{127, -128, true},
	}
	for _, tt := range tests {
		r := ScoreResult{Target: tt.target, Complement: tt.complement}
		if got := r.Present(DefaultThreshold); got != tt.want {
			t.Errorf("Present(%d,%d) = %v, want %v", tt.target, tt.complement, got, tt.want)
		}
	}
}

func TestAdapter_Run(t *testing.T) {
	tests := []struct {
		name               string
		target, complement int8
		present            bool
	}{
		{"present", 51, -10, true},
		{"absent at threshold", 50, 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(newEngine(t, tt.target, tt.complement), nil)
			if err != nil {
				t.Fatalf("NewAdapter failed: %v", err)
			}
			r, err := a.Run(context.Background())
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if r.Target != tt.target || r.Complement != tt.complement {
				t.Errorf("scores (%d,%d), want (%d,%d)", r.Target, r.Complement, tt.target, tt.complement)
			}
			if r.Present(a.Threshold()) != tt.present {
				t.Errorf("Present = %v, want %v", !tt.present, tt.present)
			}
		})
	}
}

func TestAdapter_InvokeFailure(t *testing.T) {
	m := newEngine(t, 100, 0)
	boom := errors.New("invoke status 1")
	m.InvokeFunc = func(ctx context.Context, in, out *engine.Tensor) error { return boom }

	a, err := NewAdapter(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	r, err := a.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected invoke error, got %v", err)
	}
	if r != (ScoreResult{}) {
		t.Errorf("expected zero result on failure, got %+v", r)
	}
}

func TestAdapter_Scores(t *testing.T) {
	a, err := NewAdapter(newEngine(t, 127, -128), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	scores, err := a.Scores()
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 || scores[0] != 0 || scores[1] != 255.0/256 {
		t.Errorf("Scores = %v", scores)
	}
}

func TestNewAdapter_IndexOutOfRange(t *testing.T) {
	if _, err := NewAdapter(newEngine(t, 0, 0), nil, WithIndices(2, 0)); err == nil {
		t.Error("expected error for index outside output")
	}
}

func TestNewAdapter_WithThreshold(t *testing.T) {
	a, err := NewAdapter(newEngine(t, 0, 0), nil, WithThreshold(-5))
	if err != nil {
		t.Fatal(err)
	}
	r, _ := a.Run(context.Background())
	if !r.Present(a.Threshold()) {
		t.Error("score 0 should exceed threshold -5")
	}
}
