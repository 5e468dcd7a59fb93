package observability

import "testing"

func TestLatencyWindowPercentiles(t *testing.T) {
	w := newLatencyWindow(100)
	for i := 1; i <= 100; i++ {
		w.Observe(StageAppend, float64(i))
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Stage != StageAppend || st.Samples != 100 {
		t.Fatalf("stage = %+v", st)
	}
	if st.LastMS != 100 {
		t.Fatalf("LastMS = %f, want 100", st.LastMS)
	}
	if st.AvgMS != 50.5 {
		t.Fatalf("AvgMS = %f, want 50.5", st.AvgMS)
	}
	if st.P50MS != 50.5 {
		t.Fatalf("P50MS = %f, want 50.5", st.P50MS)
	}
	if st.P95MS != 95.05 {
		t.Fatalf("P95MS = %f, want 95.05", st.P95MS)
	}
	if st.TargetP95MS != 50 {
		t.Fatalf("TargetP95MS = %f, want 50", st.TargetP95MS)
	}
}

func TestLatencyWindowWrapsOldSamples(t *testing.T) {
	w := newLatencyWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageRecall, 1000)
	}
	for i := 0; i < 4; i++ {
		w.Observe(StageRecall, 10)
	}

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	st := snap.Stages[0]
	if st.Samples != 4 {
		t.Fatalf("Samples = %d, want window size 4", st.Samples)
	}
	if st.P99MS != 10 {
		t.Fatalf("P99MS = %f, old samples leaked into window", st.P99MS)
	}
}

func TestLatencyWindowIgnoresBadInput(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("", 5)
	w.Observe(StageAppend, -1)

	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("stages = %+v, want none", snap.Stages)
	}
}

func TestLatencyWindowIndicators(t *testing.T) {
	w := newLatencyWindow(8)
	w.ObserveIndicator("recovery_skipped")
	w.ObserveIndicator("recovery_skipped")
	w.ObserveIndicator("  ")

	snap := w.Snapshot()
	if len(snap.Indicators) != 1 {
		t.Fatalf("indicators = %+v, want 1", snap.Indicators)
	}
	if snap.Indicators[0].Name != "recovery_skipped" || snap.Indicators[0].Count != 2 {
		t.Fatalf("indicator = %+v", snap.Indicators[0])
	}
}

func TestQuantileEdges(t *testing.T) {
	if got := quantile(nil, 0.5); got != 0 {
		t.Fatalf("quantile(nil) = %f", got)
	}
	sorted := []float64{1, 2, 3}
	if got := quantile(sorted, 0); got != 1 {
		t.Fatalf("quantile(0) = %f", got)
	}
	if got := quantile(sorted, 1); got != 3 {
		t.Fatalf("quantile(1) = %f", got)
	}
	if got := quantile(sorted, 0.5); got != 2 {
		t.Fatalf("quantile(0.5) = %f", got)
	}
}
