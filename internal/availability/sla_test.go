package availability

import (
	"testing"
	"time"
)

func TestDetectOutagesMergesContiguousDowntime(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	var samples []sample
	// 15s of bridge down, sampled every 5s (matches the 30s sampler
	// cadence loosely enough to exercise contiguous-run merging).
	for i := 0; i < 3; i++ {
		samples = append(samples, sample{
			at:     base.Add(time.Duration(i*5) * time.Second),
			bridge: false,
			broker: true,
			tunnel: true,
		})
	}
	// 120s more of end-to-end down via the broker, immediately following.
	for i := 0; i < 24; i++ {
		samples = append(samples, sample{
			at:     base.Add(15*time.Second + time.Duration(i*5)*time.Second),
			bridge: true,
			broker: false,
			tunnel: true,
		})
	}
	// Recovery.
	samples = append(samples, sample{
		at:     base.Add(150 * time.Second),
		bridge: true,
		broker: true,
		tunnel: true,
	})

	outages := detectOutages(samples)
	if len(outages) != 1 {
		t.Fatalf("expected exactly one outage, got %d: %+v", len(outages), outages)
	}

	o := outages[0]
	if o.Duration < 130*time.Second || o.Duration > 140*time.Second {
		t.Errorf("expected outage duration near 135s, got %s", o.Duration)
	}

	foundBridge := false
	for _, c := range o.AffectedComponents {
		if c == "bridge" {
			foundBridge = true
		}
	}
	if !foundBridge {
		t.Errorf("expected affected_components to contain bridge, got %v", o.AffectedComponents)
	}
}

func TestDetectOutagesIgnoresBriefBlips(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	samples := []sample{
		{at: base, bridge: true, broker: true, tunnel: true},
		{at: base.Add(5 * time.Second), bridge: false, broker: true, tunnel: true},
		{at: base.Add(10 * time.Second), bridge: true, broker: true, tunnel: true},
	}

	outages := detectOutages(samples)
	if len(outages) != 0 {
		t.Errorf("expected a 5s blip under the 60s threshold to produce no recorded outage, got %+v", outages)
	}
}

func TestReportForComputesPercentages(t *testing.T) {
	samples := []sample{
		{bridge: true, broker: true, tunnel: true},
		{bridge: true, broker: true, tunnel: true},
		{bridge: false, broker: true, tunnel: true},
		{bridge: true, broker: true, tunnel: true},
	}

	report := reportFor(Window1h, samples)
	if report.SampleCount != 4 {
		t.Fatalf("expected 4 samples, got %d", report.SampleCount)
	}
	if !report.BridgePct.Equal(report.BridgePct) {
		t.Fatal("sanity check")
	}
	if report.EndToEndPct.GreaterThan(report.BridgePct) {
		t.Errorf("expected end-to-end pct to never exceed any single signal's pct")
	}
}
