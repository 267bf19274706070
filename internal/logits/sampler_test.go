package logits

import "testing"

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical sequences for the same logits.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 20; i++ {
		a := s1.Sample([]float32{0, 1, 2, 3, 4, 5}, nil)
		b := s2.Sample([]float32{0, 1, 2, 3, 4, 5}, nil)
		if a != b {
			t.Fatalf("step %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

func TestSamplerGreedy(t *testing.T) {
	t.Parallel()
	for _, cfg := range []SamplerConfig{
		{Seed: 99, Temperature: 0},
		{Seed: 99, Temperature: 1.0, TopK: 1, TopP: 1.0},
	} {
		s := NewSampler(cfg)
		if idx := s.Sample([]float32{-1, 5, 3, 7, 2}, nil); idx != 3 {
			t.Fatalf("%+v: expected greedy index 3, got %d", cfg, idx)
		}
	}
	if !NewSampler(SamplerConfig{}).Greedy() {
		t.Fatal("zero config should be greedy")
	}
}

// TestSamplerTopP: the first candidate alone exceeds TopP, so it is the
// only index ever returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Sample([]float32{10, 0, 0, 0, 0}, nil); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestSamplerMinPFiltersTail(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 1.0, TopK: 4, MinP: 0.5})
	for i := 0; i < 50; i++ {
		idx := s.Sample([]float32{5, 5, -5, -5}, nil)
		if idx != 0 && idx != 1 {
			t.Fatalf("min-p sampling returned filtered index %d", idx)
		}
	}
}

func TestSamplerRepeatPenalty(t *testing.T) {
	t.Parallel()
	s := NewSampler(SamplerConfig{Temperature: 0, RepeatPenalty: 4})
	// Token 0 leads until it appears in the recent window.
	if idx := s.Sample([]float32{4, 2, 1}, nil); idx != 0 {
		t.Fatalf("expected 0 without history, got %d", idx)
	}
	if idx := s.Sample([]float32{4, 2, 1}, []int{0, 0, 0}); idx != 1 {
		t.Fatalf("expected penalty to demote token 0, got %d", idx)
	}
}

func TestSamplerEmptyLogits(t *testing.T) {
	t.Parallel()
	if idx := NewSampler(SamplerConfig{Temperature: 1}).Sample(nil, nil); idx != 0 {
		t.Fatalf("expected 0 for empty logits, got %d", idx)
	}
}
