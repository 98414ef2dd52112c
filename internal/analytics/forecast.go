package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salescrm/internal/config"
	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// ForecastEngine projects revenue over a forward-looking window. It is a
// pure reader: every call recomputes from a fresh snapshot of the store.
type ForecastEngine struct {
	Repo   repository.Repository
	Config config.ForecastConfig
	Logger *zap.Logger
}

type ForecastParams struct {
	WindowDays int
	// OwnerID is the already scope-resolved owner filter; nil means all
	// visible owners.
	OwnerID *uint64
}

type ForecastOpportunity struct {
	ID              uint64           `json:"id"`
	Stage           models.Stage     `json:"stage"`
	Amount          decimal.Decimal  `json:"amount"`
	Probability     int              `json:"probability"`
	WeightedValue   decimal.Decimal  `json:"weighted_value"`
	ExpectedCloseAt *time.Time       `json:"expected_close_at,omitempty"`
}

type StageForecast struct {
	Stage          models.Stage          `json:"stage"`
	Count          int                   `json:"count"`
	TotalValue     decimal.Decimal       `json:"total_value"`
	WeightedValue  decimal.Decimal       `json:"weighted_value"`
	AvgProbability float64               `json:"avg_probability"`
	Opportunities  []ForecastOpportunity `json:"opportunities"`
}

type OwnerForecast struct {
	OwnerID       uint64          `json:"owner_id"`
	Count         int             `json:"count"`
	TotalValue    decimal.Decimal `json:"total_value"`
	WeightedValue decimal.Decimal `json:"weighted_value"`
	CommitValue   decimal.Decimal `json:"commit_value"`
}

type MonthForecast struct {
	Month         string          `json:"month"`
	Count         int             `json:"count"`
	TotalValue    decimal.Decimal `json:"total_value"`
	WeightedValue decimal.Decimal `json:"weighted_value"`
}

type PeriodAccuracy struct {
	From     time.Time       `json:"from"`
	To       time.Time       `json:"to"`
	WonValue decimal.Decimal `json:"won_value"`
	AllValue decimal.Decimal `json:"all_value"`
	Accuracy float64         `json:"accuracy"`
}

type AccuracySummary struct {
	Periods []PeriodAccuracy `json:"periods"`
	Average float64          `json:"average"`
}

type Forecast struct {
	WindowDays  int       `json:"window_days"`
	GeneratedAt time.Time `json:"generated_at"`

	BestCase   decimal.Decimal `json:"best_case"`
	WorstCase  decimal.Decimal `json:"worst_case"`
	MostLikely decimal.Decimal `json:"most_likely"`
	Commit     decimal.Decimal `json:"commit"`

	// Confidence holds the heuristic confidence per scalar; most_likely is
	// fed by historical accuracy when any exists.
	Confidence map[string]float64 `json:"confidence"`

	ByStage []StageForecast `json:"by_stage"`
	ByOwner []OwnerForecast `json:"by_owner"`
	ByMonth []MonthForecast `json:"by_month"`

	Accuracy AccuracySummary `json:"historical_accuracy"`
}

func (e *ForecastEngine) Forecast(ctx context.Context, params ForecastParams) (*Forecast, error) {
	if params.WindowDays <= 0 {
		params.WindowDays = 30
	}
	now := time.Now().UTC()
	until := now.AddDate(0, 0, params.WindowDays)

	items, err := e.Repo.ListOpportunities(ctx, repository.ListOpportunitiesParams{
		OwnerID:            params.OwnerID,
		ExcludeStages:      []models.Stage{models.StageLost},
		ExpectedCloseFrom:  &now,
		ExpectedCloseTo:    &until,
		IncludeNoCloseDate: true,
	})
	if err != nil {
		return nil, err
	}

	out := &Forecast{
		WindowDays:  params.WindowDays,
		GeneratedAt: now,
		BestCase:    decimal.Zero,
		WorstCase:   decimal.Zero,
		MostLikely:  decimal.Zero,
		Commit:      decimal.Zero,
	}

	commitThreshold := e.Config.CommitThresholdPct
	if commitThreshold <= 0 {
		commitThreshold = 70
	}

	byStage := map[models.Stage]*StageForecast{}
	byOwner := map[uint64]*OwnerForecast{}
	byMonth := map[string]*MonthForecast{}

	for i := range items {
		opp := &items[i]
		amount := decimal.Zero
		if opp.Amount != nil {
			amount = *opp.Amount
		}
		prob := effectiveProbability(opp)
		weighted := weightedValue(amount, prob)

		out.BestCase = out.BestCase.Add(amount)
		out.MostLikely = out.MostLikely.Add(weighted)
		if opp.Stage == models.StageWon {
			out.WorstCase = out.WorstCase.Add(amount)
		}
		if prob >= commitThreshold {
			out.Commit = out.Commit.Add(weighted)
		}

		sf := byStage[opp.Stage]
		if sf == nil {
			sf = &StageForecast{Stage: opp.Stage, TotalValue: decimal.Zero, WeightedValue: decimal.Zero}
			byStage[opp.Stage] = sf
		}
		sf.Count++
		sf.TotalValue = sf.TotalValue.Add(amount)
		sf.WeightedValue = sf.WeightedValue.Add(weighted)
		sf.Opportunities = append(sf.Opportunities, ForecastOpportunity{
			ID:              opp.ID,
			Stage:           opp.Stage,
			Amount:          amount,
			Probability:     prob,
			WeightedValue:   weighted,
			ExpectedCloseAt: opp.ExpectedCloseAt,
		})

		of := byOwner[opp.OwnerID]
		if of == nil {
			of = &OwnerForecast{OwnerID: opp.OwnerID, TotalValue: decimal.Zero, WeightedValue: decimal.Zero, CommitValue: decimal.Zero}
			byOwner[opp.OwnerID] = of
		}
		of.Count++
		of.TotalValue = of.TotalValue.Add(amount)
		of.WeightedValue = of.WeightedValue.Add(weighted)
		if prob >= commitThreshold {
			of.CommitValue = of.CommitValue.Add(weighted)
		}

		month := monthBucket(opp.ExpectedCloseAt, now)
		mf := byMonth[month]
		if mf == nil {
			mf = &MonthForecast{Month: month, TotalValue: decimal.Zero, WeightedValue: decimal.Zero}
			byMonth[month] = mf
		}
		mf.Count++
		mf.TotalValue = mf.TotalValue.Add(amount)
		mf.WeightedValue = mf.WeightedValue.Add(weighted)
	}

	for _, sf := range byStage {
		if sf.TotalValue.IsPositive() {
			ratio, _ := sf.WeightedValue.Div(sf.TotalValue).Mul(decimal.NewFromInt(100)).Float64()
			sf.AvgProbability = ratio
		}
		sort.Slice(sf.Opportunities, func(i, j int) bool {
			return sf.Opportunities[i].Probability > sf.Opportunities[j].Probability
		})
		out.ByStage = append(out.ByStage, *sf)
	}
	sort.Slice(out.ByStage, func(i, j int) bool {
		return stageOrder(out.ByStage[i].Stage) < stageOrder(out.ByStage[j].Stage)
	})

	for _, of := range byOwner {
		out.ByOwner = append(out.ByOwner, *of)
	}
	sort.Slice(out.ByOwner, func(i, j int) bool {
		return out.ByOwner[i].WeightedValue.GreaterThan(out.ByOwner[j].WeightedValue)
	})

	for _, mf := range byMonth {
		out.ByMonth = append(out.ByMonth, *mf)
	}
	sort.Slice(out.ByMonth, func(i, j int) bool {
		return out.ByMonth[i].Month < out.ByMonth[j].Month
	})

	accuracy, err := e.historicalAccuracy(ctx, params, now)
	if err != nil {
		// Accuracy is advisory; the forecast itself is still valid.
		if e.Logger != nil {
			e.Logger.Warn("historical accuracy computation failed", zap.Error(err))
		}
		accuracy = AccuracySummary{Average: e.defaultConfidence()}
	}
	out.Accuracy = accuracy
	out.Confidence = map[string]float64{
		"best_case":   10,
		"most_likely": accuracy.Average,
		"commit":      90,
		"worst_case":  99,
	}

	return out, nil
}

// historicalAccuracy replays the previous equal-length windows: how much of
// the value expected to close in each window actually closed as WON.
func (e *ForecastEngine) historicalAccuracy(ctx context.Context, params ForecastParams, now time.Time) (AccuracySummary, error) {
	periods := e.Config.AccuracyPeriods
	if periods <= 0 {
		periods = 3
	}
	summary := AccuracySummary{}
	var total float64
	var counted int
	for offset := 1; offset <= periods; offset++ {
		from := now.AddDate(0, 0, -offset*params.WindowDays)
		to := now.AddDate(0, 0, -(offset-1)*params.WindowDays)
		items, err := e.Repo.ListOpportunities(ctx, repository.ListOpportunitiesParams{
			OwnerID:           params.OwnerID,
			Stages:            []models.Stage{models.StageWon, models.StageLost},
			ExpectedCloseFrom: &from,
			ExpectedCloseTo:   &to,
		})
		if err != nil {
			return AccuracySummary{}, err
		}
		if len(items) == 0 {
			continue
		}
		won := decimal.Zero
		all := decimal.Zero
		for i := range items {
			if items[i].Amount == nil {
				continue
			}
			all = all.Add(*items[i].Amount)
			if items[i].Stage == models.StageWon {
				won = won.Add(*items[i].Amount)
			}
		}
		if !all.IsPositive() {
			continue
		}
		acc, _ := won.Div(all).Mul(decimal.NewFromInt(100)).Float64()
		summary.Periods = append(summary.Periods, PeriodAccuracy{
			From:     from,
			To:       to,
			WonValue: won,
			AllValue: all,
			Accuracy: acc,
		})
		total += acc
		counted++
	}
	if counted == 0 {
		summary.Average = e.defaultConfidence()
		return summary, nil
	}
	summary.Average = total / float64(counted)
	return summary, nil
}

func (e *ForecastEngine) defaultConfidence() float64 {
	if e.Config.DefaultConfidence > 0 {
		return e.Config.DefaultConfidence
	}
	return 75
}

func monthBucket(t *time.Time, now time.Time) string {
	if t == nil {
		return fmt.Sprintf("%04d-%02d", now.Year(), int(now.Month()))
	}
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
