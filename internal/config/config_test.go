package config

import "testing"

func TestLoadTimeoutsDefaults(t *testing.T) {
	tm := LoadTimeouts()
	if tm.EmbedMs.Milliseconds() != 3000 {
		t.Errorf("EmbedMs default = %v, want 3000ms", tm.EmbedMs)
	}
	if tm.EndToEndSearch.Milliseconds() != 15000 {
		t.Errorf("EndToEndSearch default = %v, want 15000ms", tm.EndToEndSearch)
	}
}

func TestLoadWeightsDefaults(t *testing.T) {
	w := LoadWeights()
	if w.RRFKShort != 80 || w.RRFKMedium != 60 || w.RRFKDefault != 50 {
		t.Errorf("unexpected RRF k defaults: %+v", w)
	}
	if w.CEMultiplierMax != 2.0 {
		t.Errorf("CEMultiplierMax default = %v, want 2.0", w.CEMultiplierMax)
	}
}

func TestLoadBreakerParamsOverride(t *testing.T) {
	t.Setenv("BREAKER_EMBEDDER_FAILURE_THRESHOLD", "7")
	p := LoadBreakerParams("embedder")
	if p.FailureThreshold != 7 {
		t.Errorf("FailureThreshold = %d, want 7", p.FailureThreshold)
	}
	if p.SuccessThreshold != 2 {
		t.Errorf("SuccessThreshold default = %d, want 2", p.SuccessThreshold)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitCSV[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
