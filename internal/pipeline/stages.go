package pipeline

import "salescrm/internal/models"

// stageEdges is the single source of truth for legal stage moves. Every
// legality check in the codebase goes through CanTransition; nothing else may
// encode the graph.
var stageEdges = map[models.Stage][]models.Stage{
	models.StageNew:           {models.StageQualification, models.StageLost},
	models.StageQualification: {models.StageDiscovery, models.StageLost},
	models.StageDiscovery:     {models.StageProposal, models.StageLost},
	models.StageProposal:      {models.StageNegotiation, models.StageWon, models.StageLost},
	models.StageNegotiation:   {models.StageWon, models.StageLost},
	models.StageWon:           {},
	models.StageLost:          {},
}

var stageDefaults = map[models.Stage]int{
	models.StageNew:           10,
	models.StageQualification: 20,
	models.StageDiscovery:     35,
	models.StageProposal:      60,
	models.StageNegotiation:   80,
	models.StageWon:           100,
	models.StageLost:          0,
}

// stagesRequiringAmount lists targets that may not be entered without a deal
// amount on record.
var stagesRequiringAmount = map[models.Stage]bool{
	models.StageProposal:    true,
	models.StageNegotiation: true,
	models.StageWon:         true,
}

var suggestedActions = map[models.Stage][]string{
	models.StageQualification: {
		"Confirm budget and decision maker",
		"Schedule a qualification call",
	},
	models.StageDiscovery: {
		"Book a discovery workshop",
		"Map requirements to product capabilities",
	},
	models.StageProposal: {
		"Prepare proposal document",
		"Set expected close date with the customer",
	},
	models.StageNegotiation: {
		"Review discount approval thresholds",
		"Align contract terms with legal",
	},
	models.StageWon: {
		"Hand off to onboarding",
		"Request a referral",
	},
	models.StageLost: {
		"Record loss reason details",
		"Schedule a win-back check-in",
	},
}

// ValidStage reports whether s names a known pipeline stage.
func ValidStage(s models.Stage) bool {
	_, ok := stageEdges[s]
	return ok
}

// CanTransition reports whether from->to is a legal edge. Pure: it consults
// only the static graph.
func CanTransition(from, to models.Stage) bool {
	for _, next := range stageEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStages returns the legal targets from a stage, in graph order.
func NextStages(from models.Stage) []models.Stage {
	edges := stageEdges[from]
	out := make([]models.Stage, len(edges))
	copy(out, edges)
	return out
}

// DefaultProbability returns the stage's default close probability (0-100).
func DefaultProbability(s models.Stage) int {
	return stageDefaults[s]
}

// RequiresAmount reports whether entering the stage requires an amount.
func RequiresAmount(s models.Stage) bool {
	return stagesRequiringAmount[s]
}

// RequiresLostReason reports whether entering the stage requires a loss reason.
func RequiresLostReason(s models.Stage) bool {
	return s == models.StageLost
}

// SuggestedActions returns the static follow-up checklist for a stage.
func SuggestedActions(s models.Stage) []string {
	actions := suggestedActions[s]
	out := make([]string, len(actions))
	copy(out, actions)
	return out
}

// ValidLostReason reports whether the reason is one of the recorded enum
// values. The synthetic NO_REASON bucket is analytics-only and not accepted.
func ValidLostReason(reason string) bool {
	switch reason {
	case models.LostReasonSemBudget,
		models.LostReasonPrice,
		models.LostReasonCompetitor,
		models.LostReasonTiming,
		models.LostReasonNoFit,
		models.LostReasonOther:
		return true
	}
	return false
}
