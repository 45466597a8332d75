// Final aggregate outputs regenerated from the registries: gene ranks,
// per-run species predictions, and a queryable SQLite export.

package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/yumyai/eslmm/pkg/registry"
)

// formatSelectedSites renders a selected-sites map as "site:hits" entries
// in ascending site order, or "" when no site was ever selected.
func formatSelectedSites(sites map[int]int) string {
	if len(sites) == 0 {
		return ""
	}
	idxs := make([]int, 0, len(sites))
	for i := range sites {
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	parts := make([]string, 0, len(idxs))
	for _, i := range idxs {
		parts = append(parts, fmt.Sprintf("%d:%d", i, sites[i]))
	}
	return strings.Join(parts, " ")
}

// WriteGeneRanks writes the cross-combination gene report as CSV, best
// genes first (most combos ranked top, then best lifetime rank).
func WriteGeneRanks(path string, genes *registry.GeneRegistry) error {

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"gene", "num_combos_ranked_top", "num_combos_ranked",
		"best_ever_rank", "highest_ever_gss", "selected_sites",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, g := range genes.RankedBest() {
		row := []string{
			g.Gene,
			strconv.Itoa(g.NumCombosRankedTop),
			strconv.Itoa(g.NumCombosRanked),
			strconv.Itoa(g.BestEverRank),
			strconv.FormatFloat(g.HighestEverGSS, 'g', -1, 64),
			formatSelectedSites(g.SelectedSites),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// WriteSpeciesPredictions writes one CSV row per (run, species) score.
func WriteSpeciesPredictions(path string, runs *registry.RunRegistry) error {

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"run_id", "combo", "kind", "lambda1", "lambda2", "input_rmse", "species", "score"}); err != nil {
		return err
	}

	for _, run := range runs.Runs {
		species := make([]string, 0, len(run.SpeciesScores))
		for sp := range run.SpeciesScores {
			species = append(species, sp)
		}
		sort.Strings(species)
		for _, sp := range species {
			row := []string{
				run.ID,
				strconv.Itoa(run.Combo),
				run.Kind,
				strconv.FormatFloat(run.Lambda1, 'g', -1, 64),
				strconv.FormatFloat(run.Lambda2, 'g', -1, 64),
				strconv.FormatFloat(run.InputRMSE, 'g', -1, 64),
				sp,
				strconv.FormatFloat(run.SpeciesScores[sp], 'g', -1, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}

	w.Flush()
	return w.Error()
}

// GeneRanksPath and friends keep the output naming in one place.
func GeneRanksPath(outputDir, baseName string) string {
	return outputDir + "/" + baseName + "_gene_ranks.csv"
}

func SpeciesPredictionsPath(outputDir, baseName string) string {
	return outputDir + "/" + baseName + "_species_predictions.csv"
}

func SQLitePath(outputDir, baseName string) string {
	return outputDir + "/" + baseName + "_results.db"
}

// WriteAll produces every final output from the loaded registries.
func WriteAll(outputDir, baseName string, genes *registry.GeneRegistry, runs *registry.RunRegistry) error {
	if err := WriteGeneRanks(GeneRanksPath(outputDir, baseName), genes); err != nil {
		return fmt.Errorf("could not write gene ranks: %w", err)
	}
	if err := WriteSpeciesPredictions(SpeciesPredictionsPath(outputDir, baseName), runs); err != nil {
		return fmt.Errorf("could not write species predictions: %w", err)
	}
	if err := ExportSQLite(SQLitePath(outputDir, baseName), genes, runs); err != nil {
		return fmt.Errorf("could not export results database: %w", err)
	}
	return nil
}
