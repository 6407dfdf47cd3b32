package availability

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SLAWindow is one of the fixed reporting windows from spec.md 4.9.
type SLAWindow string

const (
	Window1h  SLAWindow = "1h"
	Window24h SLAWindow = "24h"
	Window7d  SLAWindow = "7d"
	Window30d SLAWindow = "30d"
)

var windowDurations = map[SLAWindow]time.Duration{
	Window1h:  time.Hour,
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
	Window30d: 30 * 24 * time.Hour,
}

// SLAReport is the percentage uptime of each signal, plus the
// end-to-end intersection, over one window.
type SLAReport struct {
	Window       SLAWindow
	SampleCount  int
	BridgePct    decimal.Decimal
	BrokerPct    decimal.Decimal
	TunnelPct    decimal.Decimal
	EndToEndPct  decimal.Decimal
}

// Report computes SLA percentages for every fixed window.
func (s *Sampler) Report(ctx context.Context) (map[SLAWindow]SLAReport, error) {
	out := make(map[SLAWindow]SLAReport, len(windowDurations))
	for w, dur := range windowDurations {
		samples, err := s.samplesSince(ctx, time.Now().UTC().Add(-dur))
		if err != nil {
			return nil, err
		}
		out[w] = reportFor(w, samples)
	}
	return out, nil
}

func reportFor(w SLAWindow, samples []sample) SLAReport {
	if len(samples) == 0 {
		return SLAReport{Window: w}
	}

	var bridgeOK, brokerOK, tunnelOK, endToEndOK int
	for _, sm := range samples {
		if sm.bridge {
			bridgeOK++
		}
		if sm.broker {
			brokerOK++
		}
		if sm.tunnel {
			tunnelOK++
		}
		if sm.bridge && sm.broker && sm.tunnel {
			endToEndOK++
		}
	}

	total := decimal.NewFromInt(int64(len(samples)))
	pct := func(ok int) decimal.Decimal {
		return decimal.NewFromInt(int64(ok)).Div(total).Mul(decimal.NewFromInt(100))
	}

	return SLAReport{
		Window:      w,
		SampleCount: len(samples),
		BridgePct:   pct(bridgeOK),
		BrokerPct:   pct(brokerOK),
		TunnelPct:   pct(tunnelOK),
		EndToEndPct: pct(endToEndOK),
	}
}

// Outage is one contiguous run where the end-to-end signal was down
// for at least outageMinDur.
type Outage struct {
	Start               time.Time
	End                 time.Time
	Duration            time.Duration
	AffectedComponents   []string
}

// Outages scans samples in [since, now] and returns every contiguous
// run of end_to_end=false lasting at least 60s, per spec.md 4.9.
// Affected components are every signal that was down at any point
// during the run.
func (s *Sampler) Outages(ctx context.Context, since time.Time) ([]Outage, error) {
	samples, err := s.samplesSince(ctx, since)
	if err != nil {
		return nil, err
	}
	return detectOutages(samples), nil
}

func detectOutages(samples []sample) []Outage {
	var outages []Outage
	var runStart time.Time
	var runEnd time.Time
	inRun := false
	affected := map[string]bool{}

	flush := func() {
		if !inRun {
			return
		}
		dur := runEnd.Sub(runStart)
		if dur >= outageMinDur {
			outages = append(outages, Outage{
				Start:              runStart,
				End:                runEnd,
				Duration:           dur,
				AffectedComponents: sortedKeys(affected),
			})
		}
		inRun = false
		affected = map[string]bool{}
	}

	for _, sm := range samples {
		endToEnd := sm.bridge && sm.broker && sm.tunnel
		if !endToEnd {
			if !inRun {
				runStart = sm.at
				inRun = true
			}
			runEnd = sm.at
			if !sm.bridge {
				affected["bridge"] = true
			}
			if !sm.broker {
				affected["broker"] = true
			}
			if !sm.tunnel {
				affected["tunnel"] = true
			}
		} else {
			flush()
		}
	}
	flush()

	return outages
}

func sortedKeys(m map[string]bool) []string {
	order := []string{"bridge", "broker", "tunnel"}
	var out []string
	for _, k := range order {
		if m[k] {
			out = append(out, k)
		}
	}
	return out
}
