package sandbox

import "testing"

func TestApply_OffMode_NoAttacher(t *testing.T) {
	attacher, info, err := Apply(Config{Mode: ModeOff})
	if err != nil {
		t.Fatalf("Apply(off): %v", err)
	}
	if attacher != nil {
		t.Error("off mode should return a nil attacher")
	}
	if info.Mode != "none" {
		t.Errorf("info.Mode = %q, want none", info.Mode)
	}
}

func TestApply_BestEffort_NeverErrors(t *testing.T) {
	mem := uint64(256)
	_, info, err := Apply(Config{Mode: ModeBestEffort, MemoryMaxMB: &mem})
	if err != nil {
		t.Fatalf("Apply(best_effort) should never return an error, got %v", err)
	}
	if info.Mode != "cgroup" && info.Mode != "rlimit" && info.Mode != "none" {
		t.Errorf("info.Mode = %q, want cgroup|rlimit|none", info.Mode)
	}
}

func TestAttacher_Release_NilSafe(t *testing.T) {
	var a *Attacher
	if err := a.Release(); err != nil {
		t.Errorf("Release on nil *Attacher should be a no-op, got %v", err)
	}
}

func TestNoopHandle_Release(t *testing.T) {
	var h Handle = noopHandle{}
	if err := h.Release(); err != nil {
		t.Errorf("noopHandle.Release should never error, got %v", err)
	}
}
