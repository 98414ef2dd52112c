package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"salescrm/internal/models"
)

func intPtr(v int) *int { return &v }

func decPtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func timePtr(t time.Time) *time.Time { return &t }

func TestForecast_WindowSelectionAndScalars(t *testing.T) {
	now := time.Now().UTC()
	repo := newStubRepo()
	repo.opps = []models.Opportunity{
		{ID: 1, OwnerID: 1, Stage: models.StageWon, Amount: decPtr(1000), Version: 1},
		{ID: 2, OwnerID: 1, Stage: models.StageProposal, Amount: decPtr(2000), Probability: intPtr(60), ExpectedCloseAt: timePtr(now.AddDate(0, 0, 10)), Version: 1},
		// Close date beyond the window: excluded from selection.
		{ID: 3, OwnerID: 1, Stage: models.StageNegotiation, Amount: decPtr(3000), Probability: intPtr(80), ExpectedCloseAt: timePtr(now.AddDate(0, 0, 40)), Version: 1},
	}
	engine := &ForecastEngine{Repo: repo}

	forecast, err := engine.Forecast(context.Background(), ForecastParams{WindowDays: 30})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}

	if !forecast.BestCase.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("best_case=%s want=3000", forecast.BestCase)
	}
	if !forecast.MostLikely.Equal(decimal.NewFromInt(2200)) {
		t.Fatalf("most_likely=%s want=2200", forecast.MostLikely)
	}
	if !forecast.WorstCase.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("worst_case=%s want=1000", forecast.WorstCase)
	}
	// Only the WON deal is at or above the 70% commit threshold.
	if !forecast.Commit.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("commit=%s want=1000", forecast.Commit)
	}

	if len(forecast.ByStage) != 2 {
		t.Fatalf("by_stage groups=%d want=2", len(forecast.ByStage))
	}
	if forecast.ByStage[0].Stage != models.StageProposal || forecast.ByStage[1].Stage != models.StageWon {
		t.Fatalf("by_stage order=%v", []models.Stage{forecast.ByStage[0].Stage, forecast.ByStage[1].Stage})
	}
}

func TestForecast_ReadIsIdempotent(t *testing.T) {
	now := time.Now().UTC()
	repo := newStubRepo()
	repo.opps = []models.Opportunity{
		{ID: 1, OwnerID: 1, Stage: models.StageProposal, Amount: decPtr(4000), ExpectedCloseAt: timePtr(now.AddDate(0, 0, 5)), Version: 1},
	}
	engine := &ForecastEngine{Repo: repo}

	first, err := engine.Forecast(context.Background(), ForecastParams{WindowDays: 30})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	second, err := engine.Forecast(context.Background(), ForecastParams{WindowDays: 30})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if !first.MostLikely.Equal(second.MostLikely) || !first.BestCase.Equal(second.BestCase) {
		t.Fatalf("repeated forecast diverged: %s/%s vs %s/%s",
			first.BestCase, first.MostLikely, second.BestCase, second.MostLikely)
	}
}

func TestForecast_StageDefaultProbabilityApplies(t *testing.T) {
	now := time.Now().UTC()
	repo := newStubRepo()
	// No explicit probability: PROPOSAL defaults to 60.
	repo.opps = []models.Opportunity{
		{ID: 1, OwnerID: 1, Stage: models.StageProposal, Amount: decPtr(1000), ExpectedCloseAt: timePtr(now.AddDate(0, 0, 5)), Version: 1},
	}
	engine := &ForecastEngine{Repo: repo}

	forecast, err := engine.Forecast(context.Background(), ForecastParams{WindowDays: 30})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if !forecast.MostLikely.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("most_likely=%s want=600", forecast.MostLikely)
	}
}

func TestForecast_HistoricalAccuracy(t *testing.T) {
	now := time.Now().UTC()
	repo := newStubRepo()
	// Previous 30-day window: 1000 won out of 2000 expected -> 50% accuracy.
	repo.opps = []models.Opportunity{
		{ID: 1, OwnerID: 1, Stage: models.StageWon, Amount: decPtr(1000), ExpectedCloseAt: timePtr(now.AddDate(0, 0, -15)), ClosedAt: timePtr(now.AddDate(0, 0, -14)), Version: 1},
		{ID: 2, OwnerID: 1, Stage: models.StageLost, Amount: decPtr(1000), ExpectedCloseAt: timePtr(now.AddDate(0, 0, -10)), ClosedAt: timePtr(now.AddDate(0, 0, -9)), Version: 1},
	}
	engine := &ForecastEngine{Repo: repo}

	forecast, err := engine.Forecast(context.Background(), ForecastParams{WindowDays: 30})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if len(forecast.Accuracy.Periods) != 1 {
		t.Fatalf("accuracy periods=%d want=1", len(forecast.Accuracy.Periods))
	}
	if forecast.Accuracy.Average != 50 {
		t.Fatalf("accuracy average=%f want=50", forecast.Accuracy.Average)
	}
	if forecast.Confidence["most_likely"] != 50 {
		t.Fatalf("most_likely confidence=%f want=50", forecast.Confidence["most_likely"])
	}
}

func TestForecast_NoHistoryFallsBackToDefaultConfidence(t *testing.T) {
	repo := newStubRepo()
	engine := &ForecastEngine{Repo: repo}

	forecast, err := engine.Forecast(context.Background(), ForecastParams{WindowDays: 30})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if forecast.Confidence["most_likely"] != 75 {
		t.Fatalf("most_likely confidence=%f want=75", forecast.Confidence["most_likely"])
	}
}
