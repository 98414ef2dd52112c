package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salescrm/internal/models"
	"salescrm/internal/pipeline"
	"salescrm/internal/repository"
)

// PipelineAnalytics derives stage distribution, velocity and conversion
// numbers from the opportunity snapshot and the stage history ledger.
type PipelineAnalytics struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type PipelineParams struct {
	From    time.Time
	To      time.Time
	OwnerID *uint64
}

type StageDistribution struct {
	Stage         models.Stage              `json:"stage"`
	Count         int                       `json:"count"`
	TotalValue    decimal.Decimal           `json:"total_value"`
	WeightedValue decimal.Decimal           `json:"weighted_value"`
	AvgDealSize   decimal.Decimal           `json:"avg_deal_size"`
	Opportunities []DistributionOpportunity `json:"opportunities"`
}

type DistributionOpportunity struct {
	ID     uint64          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Stage  models.Stage    `json:"stage"`
}

type StageVelocity struct {
	Stage       models.Stage `json:"stage"`
	AvgDays     float64      `json:"avg_days"`
	SampleCount int          `json:"sample_count"`
}

type StageConversion struct {
	Stage          models.Stage `json:"stage"`
	Entered        int          `json:"entered"`
	Converted      int          `json:"converted"`
	ConversionRate float64      `json:"conversion_rate"`
}

type PipelineReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Distribution []StageDistribution `json:"distribution"`
	Velocity     []StageVelocity     `json:"velocity"`
	Conversion   []StageConversion   `json:"conversion"`
}

func (a *PipelineAnalytics) Report(ctx context.Context, params PipelineParams) (*PipelineReport, error) {
	items, err := a.Repo.ListOpportunities(ctx, repository.ListOpportunitiesParams{
		OwnerID:     params.OwnerID,
		CreatedFrom: &params.From,
		CreatedTo:   &params.To,
	})
	if err != nil {
		return nil, err
	}

	report := &PipelineReport{From: params.From, To: params.To}
	report.Distribution = a.distribution(items)

	history, err := a.Repo.ListStageHistoryByOpportunityIDs(ctx, opportunityIDs(items))
	if err != nil {
		return nil, err
	}
	report.Velocity = a.velocity(history)
	report.Conversion = a.conversion(history)

	return report, nil
}

func (a *PipelineAnalytics) distribution(items []models.Opportunity) []StageDistribution {
	byStage := map[models.Stage]*StageDistribution{}
	for i := range items {
		opp := &items[i]
		d := byStage[opp.Stage]
		if d == nil {
			d = &StageDistribution{Stage: opp.Stage, TotalValue: decimal.Zero, WeightedValue: decimal.Zero, AvgDealSize: decimal.Zero}
			byStage[opp.Stage] = d
		}
		amount := amountOrZero(opp)
		d.Count++
		d.TotalValue = d.TotalValue.Add(amount)
		d.Opportunities = append(d.Opportunities, DistributionOpportunity{ID: opp.ID, Amount: amount, Stage: opp.Stage})
	}

	out := make([]StageDistribution, 0, len(byStage))
	for _, d := range byStage {
		defaultProb := decimal.NewFromInt(int64(pipeline.DefaultProbability(d.Stage)))
		d.WeightedValue = d.TotalValue.Mul(defaultProb).Div(hundred)
		if d.Count > 0 {
			d.AvgDealSize = d.TotalValue.Div(decimal.NewFromInt(int64(d.Count)))
		}
		sort.Slice(d.Opportunities, func(i, j int) bool {
			return d.Opportunities[i].Amount.GreaterThan(d.Opportunities[j].Amount)
		})
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return stageOrder(out[i].Stage) < stageOrder(out[j].Stage)
	})
	return out
}

// velocity walks each opportunity's ledger in order; the gap between two
// consecutive entries is time spent in the earlier entry's target stage.
func (a *PipelineAnalytics) velocity(history []models.StageHistoryEntry) []StageVelocity {
	type acc struct {
		total float64
		count int
	}
	byStage := map[models.Stage]*acc{}
	byOpp := groupHistory(history)
	for _, entries := range byOpp {
		for i := 0; i+1 < len(entries); i++ {
			stage := entries[i].StageTo
			days := daysBetween(entries[i].ChangedAt, entries[i+1].ChangedAt)
			if days < 0 {
				continue
			}
			v := byStage[stage]
			if v == nil {
				v = &acc{}
				byStage[stage] = v
			}
			v.total += days
			v.count++
		}
	}

	out := make([]StageVelocity, 0, len(byStage))
	for stage, v := range byStage {
		out = append(out, StageVelocity{
			Stage:       stage,
			AvgDays:     v.total / float64(v.count),
			SampleCount: v.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return stageOrder(out[i].Stage) < stageOrder(out[j].Stage)
	})
	return out
}

// conversion counts every outgoing edge as a conversion away from a stage,
// moves into LOST included. Treating losses as abandonment instead would
// need a second counter; the single-rate model is intentional.
func (a *PipelineAnalytics) conversion(history []models.StageHistoryEntry) []StageConversion {
	entered := map[models.Stage]int{}
	converted := map[models.Stage]int{}
	for i := range history {
		entered[history[i].StageTo]++
		if history[i].StageFrom != nil {
			converted[*history[i].StageFrom]++
		}
	}

	out := make([]StageConversion, 0, len(entered))
	for stage, in := range entered {
		conv := converted[stage]
		rate := 0.0
		if in > 0 {
			rate = float64(conv) / float64(in) * 100
		}
		out = append(out, StageConversion{
			Stage:          stage,
			Entered:        in,
			Converted:      conv,
			ConversionRate: rate,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return stageOrder(out[i].Stage) < stageOrder(out[j].Stage)
	})
	return out
}

// groupHistory splits a ledger slice by opportunity, preserving changed_at
// order within each group.
func groupHistory(history []models.StageHistoryEntry) map[uint64][]models.StageHistoryEntry {
	byOpp := map[uint64][]models.StageHistoryEntry{}
	for i := range history {
		byOpp[history[i].OpportunityID] = append(byOpp[history[i].OpportunityID], history[i])
	}
	for id := range byOpp {
		entries := byOpp[id]
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].ChangedAt.Before(entries[j].ChangedAt)
		})
		byOpp[id] = entries
	}
	return byOpp
}
