package analytics

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// LossAnalysisEngine breaks down LOST opportunities by reason, owner, lead
// source and the stage the deal fell out of, with a same-length preceding
// period alongside for trend comparison.
type LossAnalysisEngine struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type LossParams struct {
	From    time.Time
	To      time.Time
	OwnerID *uint64
}

type ReasonBreakdown struct {
	Reason     string          `json:"reason"`
	Count      int             `json:"count"`
	TotalValue decimal.Decimal `json:"total_value"`
	AvgValue   decimal.Decimal `json:"avg_value"`
	Percentage float64         `json:"percentage"`
}

type LossSlice struct {
	Key        string          `json:"key"`
	Count      int             `json:"count"`
	TotalValue decimal.Decimal `json:"total_value"`
}

type LossPeriod struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	TotalLost  int             `json:"total_lost"`
	TotalValue decimal.Decimal `json:"total_value"`

	ByReason      []ReasonBreakdown `json:"by_reason"`
	ByOwner       []LossSlice       `json:"by_owner"`
	BySource      []LossSlice       `json:"by_source"`
	ByStageOrigin []LossSlice       `json:"by_stage_origin"`
}

type LossReport struct {
	Current  LossPeriod `json:"current"`
	Previous LossPeriod `json:"previous"`
}

func (e *LossAnalysisEngine) Report(ctx context.Context, params LossParams) (*LossReport, error) {
	current, err := e.period(ctx, params.From, params.To, params.OwnerID)
	if err != nil {
		return nil, err
	}

	// The previous window ends just before the current one so a close at
	// the boundary counts in exactly one period.
	span := params.To.Sub(params.From)
	prevFrom := params.From.Add(-span)
	prevTo := params.From.Add(-time.Nanosecond)
	previous, err := e.period(ctx, prevFrom, prevTo, params.OwnerID)
	if err != nil {
		return nil, err
	}

	return &LossReport{Current: *current, Previous: *previous}, nil
}

func (e *LossAnalysisEngine) period(ctx context.Context, from, to time.Time, ownerID *uint64) (*LossPeriod, error) {
	stage := models.StageLost
	items, err := e.Repo.ListOpportunities(ctx, repository.ListOpportunitiesParams{
		OwnerID:    ownerID,
		Stage:      &stage,
		ClosedFrom: &from,
		ClosedTo:   &to,
		WithLead:   true,
	})
	if err != nil {
		return nil, err
	}

	period := &LossPeriod{From: from, To: to, TotalValue: decimal.Zero}
	period.TotalLost = len(items)

	byReason := map[string]*bucket{}
	byOwner := map[string]*bucket{}
	bySource := map[string]*bucket{}

	add := func(m map[string]*bucket, key string, value decimal.Decimal) {
		b := m[key]
		if b == nil {
			b = &bucket{value: decimal.Zero}
			m[key] = b
		}
		b.count++
		b.value = b.value.Add(value)
	}

	for i := range items {
		opp := &items[i]
		amount := amountOrZero(opp)
		period.TotalValue = period.TotalValue.Add(amount)

		reason := models.LostReasonNone
		if opp.LostReason != nil && *opp.LostReason != "" {
			reason = *opp.LostReason
		}
		add(byReason, reason, amount)

		add(byOwner, ownerKey(opp.OwnerID), amount)

		source := models.SourceUnknown
		if opp.Lead.Source != "" {
			source = opp.Lead.Source
		}
		add(bySource, source, amount)
	}

	origins, err := e.stageOrigins(ctx, items)
	if err != nil {
		return nil, err
	}
	byOrigin := map[string]*bucket{}
	for i := range items {
		add(byOrigin, origins[items[i].ID], amountOrZero(&items[i]))
	}

	for reason, b := range byReason {
		avg := decimal.Zero
		if b.count > 0 {
			avg = b.value.Div(decimal.NewFromInt(int64(b.count)))
		}
		pct := 0.0
		if period.TotalLost > 0 {
			pct = float64(b.count) / float64(period.TotalLost) * 100
		}
		period.ByReason = append(period.ByReason, ReasonBreakdown{
			Reason:     reason,
			Count:      b.count,
			TotalValue: b.value,
			AvgValue:   avg,
			Percentage: pct,
		})
	}
	sort.Slice(period.ByReason, func(i, j int) bool {
		if period.ByReason[i].Count != period.ByReason[j].Count {
			return period.ByReason[i].Count > period.ByReason[j].Count
		}
		return period.ByReason[i].Reason < period.ByReason[j].Reason
	})

	period.ByOwner = sliceOf(byOwner)
	period.BySource = sliceOf(bySource)
	period.ByStageOrigin = sliceOf(byOrigin)

	return period, nil
}

// stageOrigins resolves, per lost opportunity, the stage it was lost from:
// the stage_from of the ledger entry that moved it into LOST. NEW when the
// ledger has no such entry.
func (e *LossAnalysisEngine) stageOrigins(ctx context.Context, items []models.Opportunity) (map[uint64]string, error) {
	out := map[uint64]string{}
	if len(items) == 0 {
		return out, nil
	}
	history, err := e.Repo.ListStageHistoryByOpportunityIDs(ctx, opportunityIDs(items))
	if err != nil {
		return nil, err
	}
	for i := range items {
		out[items[i].ID] = string(models.StageNew)
	}
	for i := range history {
		entry := &history[i]
		if entry.StageTo != models.StageLost || entry.StageFrom == nil {
			continue
		}
		out[entry.OpportunityID] = string(*entry.StageFrom)
	}
	return out, nil
}

type bucket struct {
	count int
	value decimal.Decimal
}

func sliceOf(m map[string]*bucket) []LossSlice {
	out := make([]LossSlice, 0, len(m))
	for key, b := range m {
		out = append(out, LossSlice{Key: key, Count: b.count, TotalValue: b.value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func ownerKey(id uint64) string {
	return "owner:" + strconv.FormatUint(id, 10)
}
