package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"salescrm/internal/models"
	"salescrm/internal/pipeline"
)

var hundred = decimal.NewFromInt(100)

func effectiveProbability(opp *models.Opportunity) int {
	return opp.EffectiveProbability(pipeline.DefaultProbability(opp.Stage))
}

func weightedValue(amount decimal.Decimal, probability int) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(int64(probability))).Div(hundred)
}

// stageOrder gives a stable display order matching pipeline progression.
var stageDisplayOrder = map[models.Stage]int{
	models.StageNew:           0,
	models.StageQualification: 1,
	models.StageDiscovery:     2,
	models.StageProposal:      3,
	models.StageNegotiation:   4,
	models.StageWon:           5,
	models.StageLost:          6,
}

func stageOrder(s models.Stage) int {
	return stageDisplayOrder[s]
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

func opportunityIDs(items []models.Opportunity) []uint64 {
	out := make([]uint64, 0, len(items))
	for i := range items {
		out = append(out, items[i].ID)
	}
	return out
}

func amountOrZero(opp *models.Opportunity) decimal.Decimal {
	if opp.Amount != nil {
		return *opp.Amount
	}
	return decimal.Zero
}
