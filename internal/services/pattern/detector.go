package pattern

import (
	"math"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/service"
)

// match is what a rule reports when it fires.
type match struct {
	change float64
	excess float64
	width  float64
	window models.Window
}

type rule struct {
	kind     models.PatternKind
	severity models.Severity
	bias     models.Bias
	flags    models.PatternFlags
	band     Band
	eval     func(u models.PriceUpdate, h models.HistoryView) (match, bool)
}

// Detector classifies price updates against an ordered rule table.
// The first matching rule wins.
type Detector struct {
	cfg   Config
	rules []rule
}

var _ service.PatternClassifier = (*Detector)(nil)

func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{cfg: cfg}
	d.rules = []rule{
		{kind: models.PatternRugPull, severity: models.SeverityCritical, bias: models.BiasBearish,
			flags: models.PatternFlags{ExitBias: true, DoNotBuy: true}, band: cfg.RugPull, eval: d.oneMinute(cfg.RugPull)},
		{kind: models.PatternFomoSpike, severity: models.SeverityHigh, bias: models.BiasNeutral,
			flags: models.PatternFlags{DoNotChase: true, HighRisk: true}, band: cfg.FomoSpike, eval: d.oneMinute(cfg.FomoSpike)},
		{kind: models.PatternMegaPump, severity: models.SeverityHigh, bias: models.BiasNeutral,
			flags: models.PatternFlags{HighRisk: true}, band: cfg.MegaPump, eval: d.oneMinute(cfg.MegaPump)},
		{kind: models.PatternDump, severity: models.SeverityHigh, bias: models.BiasBearish,
			flags: models.PatternFlags{ExitBias: true}, band: cfg.Dump, eval: d.oneMinute(cfg.Dump)},
		{kind: models.PatternMidPump, severity: models.SeverityMedium, bias: models.BiasBullish,
			band: cfg.MidPump, eval: d.oneMinute(cfg.MidPump)},
		{kind: models.PatternMicroPump, severity: models.SeverityLow, bias: models.BiasBullish,
			band: cfg.MicroPump, eval: d.oneMinute(cfg.MicroPump)},
		{kind: models.PatternAccumulation, severity: models.SeverityLow, bias: models.BiasBullish,
			band: cfg.Accumulation, eval: d.fiveMinute(cfg.Accumulation)},
		{kind: models.PatternDistribution, severity: models.SeverityLow, bias: models.BiasBearish,
			flags: models.PatternFlags{ExitBias: true}, band: cfg.Distribution, eval: d.fiveMinute(cfg.Distribution)},
		{kind: models.PatternDeadCatBounce, severity: models.SeverityMedium, bias: models.BiasBearish,
			flags: models.PatternFlags{DoNotBuy: true, ExitBias: true}, band: cfg.DeadCat, eval: d.deadCatBounce},
	}
	return d, nil
}

// Classify is a pure function of its inputs: the event timestamp is the
// update's observation time, never the wall clock.
func (d *Detector) Classify(u models.PriceUpdate, h models.HistoryView) models.PatternEvent {
	for _, r := range d.rules {
		m, ok := r.eval(u, h)
		if !ok {
			continue
		}
		conf := confidence(r.band.Floor, m.excess, m.width)
		return models.PatternEvent{
			Token:      u.Token,
			Kind:       r.kind,
			Severity:   r.severity,
			Confidence: conf,
			ComputedAt: u.ObservedAt,
			Window:     m.window,
			Bias:       r.bias,
			Flags:      r.flags,
			Urgency:    urgency(r.kind, m.change, u.VolumeRatio),
			Levels:     levelsFor(r.kind),
		}
	}
	return models.PatternEvent{
		Token:      u.Token,
		Kind:       models.PatternNone,
		Severity:   models.SeverityNone,
		ComputedAt: u.ObservedAt,
		Window:     d.window(u, h, time.Minute, u.Change1m),
		Bias:       models.BiasNeutral,
		Urgency:    urgency(models.PatternNone, u.Change1m, u.VolumeRatio),
		Levels:     levelsFor(models.PatternNone),
	}
}

// confidence grows linearly from floor at the lower bound to 1 at the upper bound.
func confidence(floor, excess, width float64) float64 {
	if width <= 0 {
		return floor
	}
	frac := excess / width
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return math.Min(1, floor+(1-floor)*frac)
}

// bandMatch tests change against b. Falling bands are mirrored so the same
// arithmetic serves both directions.
func (d *Detector) bandMatch(b Band, change, volumeRatio float64) (excess, width float64, ok bool) {
	lower, x := b.Lower, change
	upper := b.Upper
	if lower < 0 {
		lower, x, upper = -lower, -change, -upper
	}
	if x < lower || volumeRatio < b.Volume {
		return 0, 0, false
	}
	width = d.cfg.OpenBandWidth
	if upper > lower {
		width = upper - lower
		if b.Bounded && x > upper {
			return 0, 0, false
		}
	}
	return x - lower, width, true
}

func (d *Detector) oneMinute(b Band) func(models.PriceUpdate, models.HistoryView) (match, bool) {
	return func(u models.PriceUpdate, h models.HistoryView) (match, bool) {
		excess, width, ok := d.bandMatch(b, u.Change1m, u.VolumeRatio)
		if !ok {
			return match{}, false
		}
		return match{change: u.Change1m, excess: excess, width: width, window: d.window(u, h, time.Minute, u.Change1m)}, true
	}
}

// fiveMinute bands describe slow drift on ordinary volume, so the volume
// multiple is a ceiling rather than a floor.
func (d *Detector) fiveMinute(b Band) func(models.PriceUpdate, models.HistoryView) (match, bool) {
	return func(u models.PriceUpdate, h models.HistoryView) (match, bool) {
		if b.Volume > 0 && u.VolumeRatio >= b.Volume {
			return match{}, false
		}
		nb := b
		nb.Volume = 0
		excess, width, ok := d.bandMatch(nb, u.Change5m, u.VolumeRatio)
		if !ok {
			return match{}, false
		}
		return match{change: u.Change5m, excess: excess, width: width, window: d.window(u, h, 5*time.Minute, u.Change5m)}, true
	}
}

// deadCatBounce looks for a sample inside DeadCatWindow whose own one-minute
// change reached the dump threshold, then measures the rebound off the lowest
// price seen since. Only the history is consulted.
func (d *Detector) deadCatBounce(u models.PriceUpdate, h models.HistoryView) (match, bool) {
	b := d.cfg.DeadCat
	if b.Volume > 0 && u.VolumeRatio >= b.Volume {
		return match{}, false
	}
	latest, ok := h.Latest()
	if !ok {
		return match{}, false
	}
	recent := h.Since(latest.ObservedAt.Add(-d.cfg.DeadCatWindow))
	if len(recent) < 2 {
		return match{}, false
	}
	recent = recent[:len(recent)-1]

	dumpIdx := -1
	for i := len(recent) - 1; i >= 0; i-- {
		s := recent[i]
		ref, ok := h.AtOrBefore(s.ObservedAt.Add(-time.Minute))
		if !ok {
			ref, _ = h.Oldest()
		}
		if ref.Price > 0 && s.Price/ref.Price-1 <= d.cfg.Dump.Lower {
			dumpIdx = i
			break
		}
	}
	if dumpIdx < 0 {
		return match{}, false
	}

	trough := recent[dumpIdx]
	for _, s := range recent[dumpIdx:] {
		if s.Price < trough.Price {
			trough = s
		}
	}
	bounce := latest.Price/trough.Price - 1
	if bounce < b.Lower {
		return match{}, false
	}
	width := d.cfg.OpenBandWidth
	if b.Upper > b.Lower {
		width = b.Upper - b.Lower
	}
	return match{
		change: bounce,
		excess: bounce - b.Lower,
		width:  width,
		window: models.Window{
			From:     trough.ObservedAt,
			To:       latest.ObservedAt,
			Span:     latest.ObservedAt.Sub(trough.ObservedAt),
			Change:   bounce,
			Volume:   u.VolumeRatio,
			Samples:  len(recent) - dumpIdx + 1,
			Baseline: "post-dump trough",
		},
	}, true
}

func (d *Detector) window(u models.PriceUpdate, h models.HistoryView, span time.Duration, change float64) models.Window {
	w := models.Window{To: u.ObservedAt, Span: span, Change: change, Volume: u.VolumeRatio, Baseline: span.String()}
	if ref, ok := h.ReferenceFor(span); ok {
		w.From = ref.ObservedAt
		w.Samples = len(h.Since(ref.ObservedAt))
	}
	return w
}

func abs(x float64) float64 { return math.Abs(x) }
