// Boundary to the external sparse-group-lasso integration step. The core
// treats the solver as a black box invoked once per species combination.

package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/yumyai/eslmm/pkg/registry"
)

// Request describes one combination's integration run.
type Request struct {
	ComboIdx      int
	ComboName     string
	AlignmentsDir string // masked alignments for this combination
	ResponseFile  string // response matrix file
	Lambda1Only   bool
	OnlyPosGSS    bool
}

// ComboResult is what the solver returns for one combination: a ranked
// list of gene scores plus zero or more fitted runs.
type ComboResult struct {
	GeneScores []registry.GeneScore
	Runs       []*registry.RunRecord
}

// Integrator runs the external integration step for one combination.
type Integrator interface {
	Integrate(ctx context.Context, req Request) (*ComboResult, error)
}

// Subprocess invokes the solver binary once per combination. The solver
// receives the masked-alignments directory and the response file and
// reports its results as a single JSON document on stdout.
type Subprocess struct {
	Bin string
}

// solverOutput is the wire format of the solver binary's stdout.
type solverOutput struct {
	GeneScores []struct {
		Gene  string         `json:"gene"`
		Rank  int            `json:"rank"`
		GSS   float64        `json:"gss"`
		Sites map[string]int `json:"sites"`
	} `json:"gene_scores"`
	Runs []struct {
		Kind          string             `json:"kind"`
		Lambda1       float64            `json:"lambda1"`
		Lambda2       float64            `json:"lambda2"`
		PenaltyTerm   float64            `json:"penalty_term"`
		InputRMSE     float64            `json:"input_rmse"`
		Intercept     float64            `json:"intercept"`
		SpeciesScores map[string]float64 `json:"species_scores"`
	} `json:"runs"`
}

func (s *Subprocess) Integrate(ctx context.Context, req Request) (*ComboResult, error) {

	args := []string{
		"--alignments", req.AlignmentsDir,
		"--response", req.ResponseFile,
	}
	if req.Lambda1Only {
		args = append(args, "--lambda1-only")
	}
	if req.OnlyPosGSS {
		args = append(args, "--only-pos-gss")
	}

	cmd := exec.CommandContext(ctx, s.Bin, args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("solver failed for %s: %w - %s", req.ComboName, err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("solver failed for %s: %w", req.ComboName, err)
	}

	var raw solverOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, fmt.Errorf("could not parse solver output for %s: %w", req.ComboName, err)
	}

	return buildResult(req.ComboIdx, &raw)
}

func buildResult(comboIdx int, raw *solverOutput) (*ComboResult, error) {

	res := &ComboResult{}

	for _, gs := range raw.GeneScores {
		sites := make(map[int]int, len(gs.Sites))
		for site, hits := range gs.Sites {
			var idx int
			if _, err := fmt.Sscanf(site, "%d", &idx); err != nil {
				return nil, fmt.Errorf("bad site index '%s' for gene %s", site, gs.Gene)
			}
			sites[idx] = hits
		}
		res.GeneScores = append(res.GeneScores, registry.GeneScore{
			Gene:  gs.Gene,
			Rank:  gs.Rank,
			GSS:   gs.GSS,
			Sites: sites,
		})
	}

	for _, r := range raw.Runs {
		kind := r.Kind
		if kind == "" {
			kind = registry.RunKindLasso
		}
		defaultScore := 0.0
		if kind == registry.RunKindPrediction {
			defaultScore = r.Intercept
		}
		var species []string
		for sp := range r.SpeciesScores {
			species = append(species, sp)
		}
		run := registry.NewRunRecord(comboIdx, kind, species, defaultScore)
		run.Lambda1 = r.Lambda1
		run.Lambda2 = r.Lambda2
		run.PenaltyTerm = r.PenaltyTerm
		run.InputRMSE = r.InputRMSE
		for sp, score := range r.SpeciesScores {
			run.SpeciesScores[sp] = score
		}
		res.Runs = append(res.Runs, run)
	}

	return res, nil
}
