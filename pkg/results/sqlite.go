package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/yumyai/eslmm/pkg/registry"

	_ "modernc.org/sqlite"
)

const resultsSchema = `
CREATE TABLE gene_ranks (
	gene                  TEXT PRIMARY KEY,
	num_combos_ranked_top INTEGER NOT NULL,
	num_combos_ranked     INTEGER NOT NULL,
	best_ever_rank        INTEGER NOT NULL,
	highest_ever_gss      REAL NOT NULL
);
CREATE TABLE runs (
	run_id       TEXT PRIMARY KEY,
	combo        INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	lambda1      REAL NOT NULL,
	lambda2      REAL NOT NULL,
	penalty_term REAL NOT NULL,
	input_rmse   REAL NOT NULL
);
CREATE TABLE gene_selected_sites (
	gene TEXT NOT NULL REFERENCES gene_ranks(gene),
	site INTEGER NOT NULL,
	hits INTEGER NOT NULL,
	PRIMARY KEY (gene, site)
);
CREATE TABLE run_species_scores (
	run_id  TEXT NOT NULL REFERENCES runs(run_id),
	species TEXT NOT NULL,
	score   REAL NOT NULL,
	PRIMARY KEY (run_id, species)
);`

// ExportSQLite writes the final registries into a fresh SQLite database so
// results can be queried without re-parsing CSVs. Any existing database at
// dbPath is replaced.
func ExportSQLite(dbPath string, genes *registry.GeneRegistry, runs *registry.RunRegistry) error {

	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, resultsSchema); err != nil {
		return fmt.Errorf("failed to create results schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	for _, g := range genes.RankedBest() {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO gene_ranks (gene, num_combos_ranked_top, num_combos_ranked, best_ever_rank, highest_ever_gss)
			 VALUES (?, ?, ?, ?, ?)`,
			g.Gene, g.NumCombosRankedTop, g.NumCombosRanked, g.BestEverRank, g.HighestEverGSS)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert gene ranks: %w", err)
		}
		for site, hits := range g.SelectedSites {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO gene_selected_sites (gene, site, hits) VALUES (?, ?, ?)`,
				g.Gene, site, hits)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert selected sites: %w", err)
			}
		}
	}

	for _, run := range runs.Runs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, combo, kind, lambda1, lambda2, penalty_term, input_rmse)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.Combo, run.Kind, run.Lambda1, run.Lambda2, run.PenaltyTerm, run.InputRMSE)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert runs: %w", err)
		}
		for sp, score := range run.SpeciesScores {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO run_species_scores (run_id, species, score) VALUES (?, ?, ?)`,
				run.ID, sp, score)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert species scores: %w", err)
			}
		}
	}

	return tx.Commit()
}
