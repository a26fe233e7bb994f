package pattern

import (
	"fmt"
	"time"

	"TradeCore/internal/domain/models"
)

// Band is one row of the classification table. Lower is the threshold the
// change must reach (negative for falling bands); Upper is where confidence
// saturates. When Bounded is set a change beyond Upper does not match.
type Band struct {
	Lower   float64 `yaml:"lower"`
	Upper   float64 `yaml:"upper"`
	Volume  float64 `yaml:"volume"`
	Floor   float64 `yaml:"floor"`
	Bounded bool    `yaml:"bounded"`
}

type Config struct {
	RugPull      Band `yaml:"rug_pull"`
	FomoSpike    Band `yaml:"fomo_spike"`
	MegaPump     Band `yaml:"mega_pump"`
	Dump         Band `yaml:"dump"`
	MidPump      Band `yaml:"mid_pump"`
	MicroPump    Band `yaml:"micro_pump"`
	Accumulation Band `yaml:"accumulation"`
	Distribution Band `yaml:"distribution"`
	// DeadCat.Lower is the bounce off the post-dump trough; Volume is the
	// maximum volume ratio still considered low.
	DeadCat       Band          `yaml:"dead_cat_bounce"`
	DeadCatWindow time.Duration `yaml:"dead_cat_window"`
	// OpenBandWidth is the confidence width used for bands without Upper.
	OpenBandWidth float64 `yaml:"open_band_width"`
}

func DefaultConfig() Config {
	return Config{
		RugPull:       Band{Lower: -0.50, Floor: 0.90},
		FomoSpike:     Band{Lower: 0.50, Volume: 5, Floor: 0.75},
		MegaPump:      Band{Lower: 0.30, Upper: 0.50, Volume: 3, Floor: 0.70},
		Dump:          Band{Lower: -0.15, Upper: -0.30, Volume: 2, Floor: 0.80},
		MidPump:       Band{Lower: 0.15, Upper: 0.30, Volume: 2, Floor: 0.65},
		MicroPump:     Band{Lower: 0.05, Upper: 0.15, Volume: 1.5, Floor: 0.50},
		Accumulation:  Band{Lower: 0.01, Upper: 0.05, Volume: 1.5, Floor: 0.50, Bounded: true},
		Distribution:  Band{Lower: -0.01, Upper: -0.05, Volume: 1.5, Floor: 0.50, Bounded: true},
		DeadCat:       Band{Lower: 0.10, Upper: 0.30, Volume: 1.5, Floor: 0.60},
		DeadCatWindow: 2 * time.Minute,
		OpenBandWidth: 0.50,
	}
}

// Validate checks that the bands keep their relative order.
func (c Config) Validate() error {
	bad := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: pattern: %s", models.ErrConfiguration, fmt.Sprintf(format, args...))
	}
	if !(c.RugPull.Lower < c.Dump.Lower && c.Dump.Lower < 0) {
		return bad("expected rug_pull.lower < dump.lower < 0")
	}
	if !(0 < c.MicroPump.Lower && c.MicroPump.Lower < c.MidPump.Lower &&
		c.MidPump.Lower < c.MegaPump.Lower && c.MegaPump.Lower < c.FomoSpike.Lower) {
		return bad("expected 0 < micro < mid < mega < fomo lower bounds")
	}
	if !(c.Accumulation.Lower > 0 && c.Distribution.Lower < 0) {
		return bad("accumulation must be positive and distribution negative")
	}
	if c.DeadCat.Lower <= 0 || c.DeadCatWindow <= 0 {
		return bad("dead_cat_bounce needs a positive bounce and window")
	}
	if c.OpenBandWidth <= 0 {
		return bad("open_band_width must be positive")
	}
	for name, b := range map[string]Band{
		"rug_pull": c.RugPull, "fomo_spike": c.FomoSpike, "mega_pump": c.MegaPump,
		"dump": c.Dump, "mid_pump": c.MidPump, "micro_pump": c.MicroPump,
		"accumulation": c.Accumulation, "distribution": c.Distribution, "dead_cat_bounce": c.DeadCat,
	} {
		if b.Floor < 0 || b.Floor > 1 {
			return bad("%s.floor must be in [0,1]", name)
		}
		if b.Volume < 0 {
			return bad("%s.volume must be >= 0", name)
		}
		if b.Upper != 0 && abs(b.Upper) <= abs(b.Lower) {
			return bad("%s.upper must lie beyond lower", name)
		}
	}
	return nil
}
