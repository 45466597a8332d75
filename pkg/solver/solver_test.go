package solver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/eslmm/pkg/combo"
	"github.com/yumyai/eslmm/pkg/registry"
)

// helper to create a fake solver executable that prints fixed JSON
func createFakeSolver(t *testing.T, dir string, stdout string, exitCode int) string {
	t.Helper()

	name := "fake-solver"
	if runtime.GOOS == "windows" {
		name += ".bat"
	}
	path := filepath.Join(dir, name)

	var content string
	if runtime.GOOS == "windows" {
		content = "@echo off\r\necho " + stdout + "\r\nexit /b " + itoa(exitCode) + "\r\n"
	} else {
		content = "#!/bin/sh\ncat <<'EOF'\n" + stdout + "\nEOF\n"
		if exitCode != 0 {
			content = "#!/bin/sh\necho 'integration blew up' >&2\nexit " + itoa(exitCode) + "\n"
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write fake solver: %v", err)
	}
	_ = os.Chmod(path, fs.FileMode(0o755))
	return path
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	return string(rune('0' + n))
}

const solverJSON = `{
  "gene_scores": [
    {"gene": "geneA.fas", "rank": 1, "gss": 0.93, "sites": {"4": 2, "17": 1}},
    {"gene": "geneB.fas", "rank": 2, "gss": 0.41, "sites": {}}
  ],
  "runs": [
    {
      "kind": "lasso",
      "lambda1": 0.1, "lambda2": 0.05,
      "penalty_term": 0.6, "input_rmse": 0.02,
      "species_scores": {"sp1": 0.8, "sp2": -0.3}
    },
    {
      "kind": "prediction",
      "intercept": 0.25,
      "species_scores": {"sp3": 0.0}
    }
  ]
}`

func TestSubprocessIntegrateParsesOutput(t *testing.T) {
	tmp := t.TempDir()
	bin := createFakeSolver(t, tmp, solverJSON, 0)

	s := &Subprocess{Bin: bin}
	res, err := s.Integrate(context.Background(), Request{
		ComboIdx:      3,
		ComboName:     "combo_3",
		AlignmentsDir: tmp,
		ResponseFile:  filepath.Join(tmp, "combo_3.txt"),
	})
	require.NoError(t, err)

	require.Len(t, res.GeneScores, 2)
	assert.Equal(t, "geneA.fas", res.GeneScores[0].Gene)
	assert.Equal(t, 1, res.GeneScores[0].Rank)
	assert.Equal(t, 0.93, res.GeneScores[0].GSS)
	assert.Equal(t, map[int]int{4: 2, 17: 1}, res.GeneScores[0].Sites)

	require.Len(t, res.Runs, 2)
	lasso := res.Runs[0]
	assert.Equal(t, registry.RunKindLasso, lasso.Kind)
	assert.Equal(t, 3, lasso.Combo)
	assert.Equal(t, 0.6, lasso.PenaltyTerm)
	assert.Equal(t, 0.8, lasso.SpeciesScores["sp1"])

	pred := res.Runs[1]
	assert.Equal(t, registry.RunKindPrediction, pred.Kind)
	assert.Equal(t, 0.25, pred.SpeciesScores["sp3"], "prediction runs default to the intercept before scores apply")
}

func TestSubprocessIntegrateReportsStderrOnFailure(t *testing.T) {
	tmp := t.TempDir()
	bin := createFakeSolver(t, tmp, "", 1)

	s := &Subprocess{Bin: bin}
	_, err := s.Integrate(context.Background(), Request{ComboName: "combo_0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "combo_0")
	if runtime.GOOS != "windows" {
		assert.Contains(t, err.Error(), "integration blew up")
	}
}

func TestSubprocessIntegrateRejectsGarbageOutput(t *testing.T) {
	tmp := t.TempDir()
	bin := createFakeSolver(t, tmp, "this is not json", 0)

	s := &Subprocess{Bin: bin}
	_, err := s.Integrate(context.Background(), Request{ComboName: "combo_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse solver output")
}

func TestBuildResultRejectsBadSiteIndex(t *testing.T) {
	raw := &solverOutput{}
	raw.GeneScores = append(raw.GeneScores, struct {
		Gene  string         `json:"gene"`
		Rank  int            `json:"rank"`
		GSS   float64        `json:"gss"`
		Sites map[string]int `json:"sites"`
	}{Gene: "geneA.fas", Rank: 1, Sites: map[string]int{"not-a-number": 1}})

	_, err := buildResult(0, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad site index")
}

func TestWriteResponseFilesAlternatesSigns(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "responses")
	combos := []combo.SpeciesCombination{
		{"sp1", "sp2", "sp3", "sp4"},
		{"spA", "spB"},
	}

	paths, err := WriteResponseFiles(dir, combos)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, "combo_0.txt", filepath.Base(paths[0]))

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	want := strings.Join([]string{
		"sp1\t1",
		"sp2\t-1",
		"sp3\t1",
		"sp4\t-1",
	}, "\n") + "\n"
	assert.Equal(t, want, string(raw))

	raw, err = os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, "spA\t1\nspB\t-1\n", string(raw))
}
