package pattern

import (
	"math"

	"TradeCore/internal/domain/models"
)

var baseUrgency = map[models.PatternKind]float64{
	models.PatternRugPull:       1.00,
	models.PatternDump:          0.85,
	models.PatternFomoSpike:     0.75,
	models.PatternMegaPump:      0.70,
	models.PatternDeadCatBounce: 0.65,
	models.PatternMidPump:       0.60,
	models.PatternMicroPump:     0.50,
	models.PatternDistribution:  0.45,
	models.PatternAccumulation:  0.40,
	models.PatternNone:          0.20,
}

// urgency ranks how quickly a pattern should be acted on, boosted by the
// size of the move and the volume behind it.
func urgency(kind models.PatternKind, change, volumeRatio float64) float64 {
	u, ok := baseUrgency[kind]
	if !ok {
		u = 0.30
	}
	switch mag := math.Abs(change); {
	case mag > 0.20:
		u += 0.15
	case mag > 0.10:
		u += 0.10
	}
	switch {
	case volumeRatio > 5:
		u += 0.10
	case volumeRatio > 3:
		u += 0.05
	}
	return math.Min(1, u)
}

var suggestedLevels = map[models.PatternKind]models.SuggestedLevels{
	models.PatternMegaPump:  {StopLossPct: 0.15, TakeProfitPct: 0.50},
	models.PatternMidPump:   {StopLossPct: 0.10, TakeProfitPct: 0.30},
	models.PatternMicroPump: {StopLossPct: 0.08, TakeProfitPct: 0.20},
	models.PatternFomoSpike: {StopLossPct: 0.05, TakeProfitPct: 0.15},
	models.PatternDump:      {StopLossPct: 0.05, TakeProfitPct: 0.10},
}

func levelsFor(kind models.PatternKind) models.SuggestedLevels {
	if l, ok := suggestedLevels[kind]; ok {
		return l
	}
	return models.SuggestedLevels{StopLossPct: 0.10, TakeProfitPct: 0.25}
}
