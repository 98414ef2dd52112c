package analytics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"salescrm/internal/models"
	"salescrm/internal/repository"
)

// SourceQualityScorer ranks lead sources by a composite 0-100 score built
// from conversion, deal size, volume and closing speed, and measures how
// concentrated the pipeline is across sources.
type SourceQualityScorer struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type SourceParams struct {
	From    time.Time
	To      time.Time
	OwnerID *uint64
}

type SourceScorecard struct {
	Source string `json:"source"`

	TotalOpportunities int             `json:"total_opportunities"`
	TotalValue         decimal.Decimal `json:"total_value"`
	WonCount           int             `json:"won_count"`
	WonValue           decimal.Decimal `json:"won_value"`
	LostCount          int             `json:"lost_count"`
	LostValue          decimal.Decimal `json:"lost_value"`
	ActiveCount        int             `json:"active_count"`
	ActiveValue        decimal.Decimal `json:"active_value"`

	AvgDealSize    decimal.Decimal `json:"avg_deal_size"`
	ConversionRate float64         `json:"conversion_rate"`
	AvgTimeToClose float64         `json:"avg_time_to_close_days"`

	ConversionScore float64 `json:"conversion_score"`
	DealSizeScore   float64 `json:"deal_size_score"`
	VolumeScore     float64 `json:"volume_score"`
	TimeScore       float64 `json:"time_score"`
	QualityScore    float64 `json:"quality_score"`
}

type SourceReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	Sources        []SourceScorecard `json:"sources"`
	DiversityIndex float64           `json:"diversity_index"`
	Insights       []string          `json:"insights"`
}

// Insight thresholds. Fixed by design: the generator is rule-based, not
// free-text.
const (
	insightMinVolume          = 10
	insightLowConversionPct   = 20
	insightHighAvgDeal        = 15000
	insightFastCloseDays      = 21
	insightUnderperformersPct = 30
)

func (s *SourceQualityScorer) Report(ctx context.Context, params SourceParams) (*SourceReport, error) {
	items, err := s.Repo.ListOpportunities(ctx, repository.ListOpportunitiesParams{
		OwnerID:     params.OwnerID,
		CreatedFrom: &params.From,
		CreatedTo:   &params.To,
		WithLead:    true,
	})
	if err != nil {
		return nil, err
	}

	type acc struct {
		card       SourceScorecard
		closeDays  float64
		closeCount int
	}
	bySource := map[string]*acc{}
	for i := range items {
		opp := &items[i]
		source := models.SourceUnknown
		if opp.Lead.Source != "" {
			source = opp.Lead.Source
		}
		a := bySource[source]
		if a == nil {
			a = &acc{card: SourceScorecard{
				Source:      source,
				TotalValue:  decimal.Zero,
				WonValue:    decimal.Zero,
				LostValue:   decimal.Zero,
				ActiveValue: decimal.Zero,
				AvgDealSize: decimal.Zero,
			}}
			bySource[source] = a
		}
		amount := amountOrZero(opp)
		a.card.TotalOpportunities++
		a.card.TotalValue = a.card.TotalValue.Add(amount)
		switch opp.Stage {
		case models.StageWon:
			a.card.WonCount++
			a.card.WonValue = a.card.WonValue.Add(amount)
		case models.StageLost:
			a.card.LostCount++
			a.card.LostValue = a.card.LostValue.Add(amount)
		default:
			a.card.ActiveCount++
			a.card.ActiveValue = a.card.ActiveValue.Add(amount)
		}
		if opp.Stage.Terminal() && opp.ClosedAt != nil {
			a.closeDays += daysBetween(opp.CreatedAt, *opp.ClosedAt)
			a.closeCount++
		}
	}

	report := &SourceReport{From: params.From, To: params.To}
	for _, a := range bySource {
		card := a.card
		if card.TotalOpportunities > 0 {
			card.AvgDealSize = card.TotalValue.Div(decimal.NewFromInt(int64(card.TotalOpportunities)))
			card.ConversionRate = float64(card.WonCount) / float64(card.TotalOpportunities) * 100
		}
		if a.closeCount > 0 {
			card.AvgTimeToClose = a.closeDays / float64(a.closeCount)
		}
		scoreCard(&card)
		report.Sources = append(report.Sources, card)
	}
	sort.Slice(report.Sources, func(i, j int) bool {
		if report.Sources[i].QualityScore != report.Sources[j].QualityScore {
			return report.Sources[i].QualityScore > report.Sources[j].QualityScore
		}
		return report.Sources[i].Source < report.Sources[j].Source
	})

	report.DiversityIndex = diversityIndex(report.Sources, len(items))
	report.Insights = insights(report.Sources)

	return report, nil
}

// scoreCard fills the composite score components:
// conversion up to 40, deal size up to 30, volume up to 20, speed up to 10.
func scoreCard(card *SourceScorecard) {
	card.ConversionScore = math.Min(card.ConversionRate*2, 40)

	avgDeal, _ := card.AvgDealSize.Float64()
	card.DealSizeScore = math.Min(avgDeal/10000*30, 30)

	card.VolumeScore = math.Min(math.Log10(float64(card.TotalOpportunities)+1)/math.Log10(51)*20, 20)

	if card.AvgTimeToClose > 0 {
		card.TimeScore = math.Max(10-card.AvgTimeToClose/30*10, 0)
	} else {
		card.TimeScore = 5
	}

	card.QualityScore = card.ConversionScore + card.DealSizeScore + card.VolumeScore + card.TimeScore
}

// diversityIndex rescales the Herfindahl-Hirschman concentration of
// opportunity share across sources to 0-100; 0 means a single source,
// higher means a more even spread.
func diversityIndex(sources []SourceScorecard, total int) float64 {
	n := len(sources)
	if n <= 1 || total == 0 {
		return 0
	}
	hhi := 0.0
	for i := range sources {
		share := float64(sources[i].TotalOpportunities) / float64(total)
		hhi += share * share
	}
	diversity := (1 - hhi) / (1 - 1/float64(n)) * 100
	return math.Max(diversity, 0)
}

func insights(sources []SourceScorecard) []string {
	if len(sources) == 0 {
		return nil
	}
	var out []string

	top := sources[0]
	out = append(out, fmt.Sprintf("%s is the top performing source (score %.0f)", top.Source, top.QualityScore))

	for i := range sources {
		s := &sources[i]
		if s.TotalOpportunities >= insightMinVolume && s.ConversionRate < insightLowConversionPct {
			out = append(out, fmt.Sprintf("%s delivers volume but converts below %d%%; review qualification", s.Source, insightLowConversionPct))
			break
		}
	}
	for i := range sources {
		s := &sources[i]
		avgDeal, _ := s.AvgDealSize.Float64()
		if avgDeal > insightHighAvgDeal {
			out = append(out, fmt.Sprintf("%s brings high-value deals (avg %.0f)", s.Source, avgDeal))
			break
		}
	}
	for i := range sources {
		s := &sources[i]
		if s.AvgTimeToClose > 0 && s.AvgTimeToClose < insightFastCloseDays {
			out = append(out, fmt.Sprintf("%s closes fastest (%.0f days on average)", s.Source, s.AvgTimeToClose))
			break
		}
	}
	bottom := sources[len(sources)-1]
	if len(sources) > 1 && bottom.QualityScore < insightUnderperformersPct {
		out = append(out, fmt.Sprintf("%s underperforms (score %.0f); consider reallocating spend", bottom.Source, bottom.QualityScore))
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
