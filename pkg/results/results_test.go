package results

import (
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/eslmm/pkg/registry"
)

func seededRegistries(t *testing.T) (*registry.GeneRegistry, *registry.RunRegistry) {
	t.Helper()

	genes := registry.NewGeneRegistry([]string{"geneA.fas", "geneB.fas", "geneC.fas"})
	// combo 0: A top-ranked, B ranked lower
	genes.ApplyComboResult([]registry.GeneScore{
		{Gene: "geneA.fas", Rank: 1, GSS: 0.9, Sites: map[int]int{17: 1, 4: 2}},
		{Gene: "geneB.fas", Rank: 3, GSS: 0.2},
	})
	genes.FinishCombo(1)
	// combo 1: B climbs to the top, A unranked
	genes.ApplyComboResult([]registry.GeneScore{
		{Gene: "geneB.fas", Rank: 1, GSS: 0.6},
	})
	genes.FinishCombo(1)

	runs := registry.NewRunRegistry()
	run := registry.NewRunRecord(0, registry.RunKindLasso, []string{"sp2", "sp1"}, 0)
	run.Lambda1, run.Lambda2, run.InputRMSE = 0.1, 0.2, 0.05
	run.SpeciesScores["sp1"] = 0.75
	run.SpeciesScores["sp2"] = -0.5
	runs.Append(run)
	return genes, runs
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteGeneRanksOrdersBestFirst(t *testing.T) {
	genes, _ := seededRegistries(t)
	path := filepath.Join(t.TempDir(), "gene_ranks.csv")
	require.NoError(t, WriteGeneRanks(path, genes))

	rows := readCSV(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t,
		[]string{"gene", "num_combos_ranked_top", "num_combos_ranked", "best_ever_rank", "highest_ever_gss", "selected_sites"},
		rows[0])

	// A and B were each top-ranked once; A wins the best-ever-rank tiebreak
	// only on gene name since both best ranks are 1
	assert.Equal(t, []string{"geneA.fas", "1", "1", "1", "0.9", "4:2 17:1"}, rows[1])
	assert.Equal(t, []string{"geneB.fas", "1", "2", "1", "0.6", ""}, rows[2])
	assert.Equal(t, []string{"geneC.fas", "0", "0", "0", "0", ""}, rows[3])
}

func TestWriteSpeciesPredictionsSortedBySpecies(t *testing.T) {
	_, runs := seededRegistries(t)
	path := filepath.Join(t.TempDir(), "species_predictions.csv")
	require.NoError(t, WriteSpeciesPredictions(path, runs))

	rows := readCSV(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, "sp1", rows[1][6])
	assert.Equal(t, "0.75", rows[1][7])
	assert.Equal(t, "sp2", rows[2][6])
	assert.Equal(t, "-0.5", rows[2][7])
	assert.Equal(t, rows[1][0], rows[2][0], "both rows belong to the same run")
	assert.Equal(t, registry.RunKindLasso, rows[1][2])
}

func TestExportSQLiteRoundTrip(t *testing.T) {
	genes, runs := seededRegistries(t)
	dbPath := filepath.Join(t.TempDir(), "results.db")
	require.NoError(t, ExportSQLite(dbPath, genes, runs))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var geneCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM gene_ranks`).Scan(&geneCount))
	assert.Equal(t, 3, geneCount)

	var bestRank int
	var gss float64
	require.NoError(t, db.QueryRow(
		`SELECT best_ever_rank, highest_ever_gss FROM gene_ranks WHERE gene = ?`, "geneB.fas").
		Scan(&bestRank, &gss))
	assert.Equal(t, 1, bestRank)
	assert.Equal(t, 0.6, gss)

	var score float64
	require.NoError(t, db.QueryRow(
		`SELECT s.score FROM run_species_scores s JOIN runs r ON r.run_id = s.run_id WHERE s.species = ?`, "sp1").
		Scan(&score))
	assert.Equal(t, 0.75, score)

	var siteCount, hits int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM gene_selected_sites`).Scan(&siteCount))
	assert.Equal(t, 2, siteCount)
	require.NoError(t, db.QueryRow(
		`SELECT hits FROM gene_selected_sites WHERE gene = ? AND site = ?`, "geneA.fas", 4).
		Scan(&hits))
	assert.Equal(t, 2, hits)
}

func TestExportSQLiteReplacesExistingDatabase(t *testing.T) {
	genes, runs := seededRegistries(t)
	dbPath := filepath.Join(t.TempDir(), "results.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("not a database"), 0o644))

	require.NoError(t, ExportSQLite(dbPath, genes, runs))

	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWriteAllProducesEveryOutput(t *testing.T) {
	genes, runs := seededRegistries(t)
	dir := t.TempDir()
	require.NoError(t, WriteAll(dir, "eslmm", genes, runs))

	assert.FileExists(t, GeneRanksPath(dir, "eslmm"))
	assert.FileExists(t, SpeciesPredictionsPath(dir, "eslmm"))
	assert.FileExists(t, SQLitePath(dir, "eslmm"))
}
