package registry

import (
	"github.com/google/uuid"
)

// Run kinds decide the default species score of a record: lasso-style runs
// start every species at 0, prediction-style runs at the model intercept.
const (
	RunKindLasso      = "lasso"
	RunKindPrediction = "prediction"
)

// RunRecord is one fitted model from the external integration step.
type RunRecord struct {
	ID            string             `json:"id"`
	Combo         int                `json:"combo"`
	Kind          string             `json:"kind"`
	Lambda1       float64            `json:"lambda1"`
	Lambda2       float64            `json:"lambda2"`
	PenaltyTerm   float64            `json:"penalty_term"`
	InputRMSE     float64            `json:"input_rmse"`
	SpeciesScores map[string]float64 `json:"species_scores"`
}

// NewRunRecord builds a run with the species-score map materialized
// eagerly: every species starts at defaultScore (0 for lasso runs, the
// model intercept for prediction runs).
func NewRunRecord(comboIdx int, kind string, species []string, defaultScore float64) *RunRecord {
	scores := make(map[string]float64, len(species))
	for _, sp := range species {
		scores[sp] = defaultScore
	}
	return &RunRecord{
		ID:            uuid.New().String(),
		Combo:         comboIdx,
		Kind:          kind,
		SpeciesScores: scores,
	}
}

// RunRegistry is the append-only list of all runs from all combinations.
type RunRegistry struct {
	Runs []*RunRecord `json:"runs"`
}

func NewRunRegistry() *RunRegistry {
	return &RunRegistry{}
}

// Append adds this combination's runs to the master list.
func (r *RunRegistry) Append(runs ...*RunRecord) {
	r.Runs = append(r.Runs, runs...)
}

func (r *RunRegistry) Len() int {
	return len(r.Runs)
}

// GeneScore is the per-gene outcome of one combination as reported by the
// external integration step. Rank is 1-based; smaller is better.
type GeneScore struct {
	Gene  string
	Rank  int
	GSS   float64
	Sites map[int]int
}

// ApplyComboResult is the single mutation funnel for gene records: it
// writes the per-combination transients from the solver's ranked output.
// Scores for genes the registry does not track are ignored.
func (r *GeneRegistry) ApplyComboResult(scores []GeneScore) {
	for _, sc := range scores {
		gene := r.records[sc.Gene]
		if gene == nil {
			continue
		}
		if gene.BestRank == 0 || sc.Rank < gene.BestRank {
			gene.BestRank = sc.Rank
		}
		if sc.GSS > gene.HighestGSS {
			gene.HighestGSS = sc.GSS
		}
		for site, hits := range sc.Sites {
			gene.SelectedSites[site] += hits
		}
	}
}
