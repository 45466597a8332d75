// The combination orchestrator: sequences every species combination
// through gap cancellation, the external integration step, registry
// accumulation, and checkpoint commits. Strictly sequential, one
// combination at a time; resumable at combination granularity.

package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path"
	"strings"

	"github.com/yumyai/eslmm/internal/util"
	"github.com/yumyai/eslmm/logger"
	"github.com/yumyai/eslmm/pkg/alignment"
	"github.com/yumyai/eslmm/pkg/cancel"
	"github.com/yumyai/eslmm/pkg/checkpoint"
	"github.com/yumyai/eslmm/pkg/combo"
	"github.com/yumyai/eslmm/pkg/config"
	"github.com/yumyai/eslmm/pkg/registry"
	"github.com/yumyai/eslmm/pkg/results"
	"github.com/yumyai/eslmm/pkg/solver"
	"go.uber.org/zap"
)

// Orchestrator drives one full multi-combination run. It is the single
// writer of both registries and of the checkpoint directory.
type Orchestrator struct {
	Config     config.Config
	Integrator solver.Integrator
	Checkpoint *checkpoint.Manager

	// Rand seeds the pair-randomized null models; tests inject a fixed
	// seed, main uses a time seed.
	Rand *rand.Rand
}

func New(cfg config.Config, integrator solver.Integrator, cp *checkpoint.Manager) *Orchestrator {
	return &Orchestrator{
		Config:     cfg,
		Integrator: integrator,
		Checkpoint: cp,
	}
}

// Run executes the whole pipeline: validation, resume decision, the
// combination loop, and final output generation.
func (o *Orchestrator) Run(ctx context.Context) error {

	cfg := &o.Config
	cfg.ApplyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	fp := cfg.Fingerprint()
	if err := o.checkResumable(fp); err != nil {
		return err
	}

	combos, responseFiles, err := o.enumerate()
	if err != nil {
		return err
	}

	var sourceRecords []*alignment.Record
	if cfg.AlignmentsDir != "" {
		sourceRecords, err = alignment.Load(cfg.AlignmentsDir)
		if err != nil {
			return err
		}
		if cfg.LimitedGenesList != "" {
			sourceRecords, err = alignment.LimitGenes(sourceRecords, cfg.LimitedGenesList)
			if err != nil {
				return err
			}
		}
		present := make(map[string]bool)
		for _, rec := range sourceRecords {
			for _, sp := range rec.Species {
				present[sp] = true
			}
		}
		if err := combo.ValidateAgainstStore(combos, present, cfg.AlignmentsDir); err != nil {
			return err
		}
	}

	geneNames, err := o.geneNames(sourceRecords, len(combos))
	if err != nil {
		return err
	}

	genes, runs, startAt, err := o.resume(geneNames)
	if err != nil {
		return err
	}

	topThreshold := genes.TopRankThreshold(cfg.TopRankFrac)

	if startAt >= len(combos) {
		logger.Info("Checkpoint shows all combinations complete, regenerating outputs only",
			zap.Int("combos", len(combos)))
	}

	for k := startAt; k < len(combos); k++ {
		// cancellation is cooperative at combination boundaries only
		if err := ctx.Err(); err != nil {
			return err
		}

		c := combos[k]
		logger.Info("Processing combination",
			zap.Int("combo", k+1), zap.Int("total", len(combos)), zap.String("species", c.String()))

		comboDir, err := o.maskAlignments(k, c, sourceRecords, len(combos))
		if err != nil {
			return err
		}

		newRuns, err := o.integrateCombo(ctx, k, c, comboDir, responseFiles[k], genes)
		if err != nil {
			return err
		}

		genes.FinishCombo(topThreshold)
		runs.Append(newRuns...)

		if err := o.Checkpoint.Save(k, genes, runs, fp, newRuns); err != nil {
			return fmt.Errorf("could not commit checkpoint for combo %d: %w", k, err)
		}

		if cfg.DeletePreprocess && !cfg.UseExistingAlignments && len(combos) > 1 {
			if err := os.RemoveAll(comboDir); err != nil {
				logger.Warn("Could not delete intermediate alignments",
					zap.String("dir", comboDir), zap.Error(err))
			}
		}
	}

	logger.Info("Multimatrix integration finished",
		zap.Int("total_runs", runs.Len()), zap.Int("genes", genes.Len()))

	return results.WriteAll(cfg.OutputDir, cfg.OutputBaseName, genes, runs)
}

// MaskAll generates the gap-canceled alignments for every combination
// without invoking the solver. This is the standalone "cancel" surface.
func (o *Orchestrator) MaskAll(ctx context.Context) error {

	cfg := &o.Config
	cfg.ApplyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	combos, _, err := o.enumerate()
	if err != nil {
		return err
	}

	sourceRecords, err := alignment.Load(cfg.AlignmentsDir)
	if err != nil {
		return err
	}
	if cfg.LimitedGenesList != "" {
		sourceRecords, err = alignment.LimitGenes(sourceRecords, cfg.LimitedGenesList)
		if err != nil {
			return err
		}
	}

	for k, c := range combos {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.maskAlignments(k, c, sourceRecords, len(combos)); err != nil {
			return err
		}
	}

	logger.Info("Finished generating gap-canceled alignments",
		zap.Int("combos", len(combos)), zap.String("dir", cfg.CanceledAlignmentsDir))
	return nil
}

// enumerate builds the ordered combination list and one response matrix
// file per combination, either from a pre-supplied response directory or
// from the species groups file.
func (o *Orchestrator) enumerate() ([]combo.SpeciesCombination, []string, error) {

	cfg := &o.Config

	if cfg.ResponseDir != "" {
		return combo.FromResponseDir(cfg.ResponseDir)
	}

	combos, err := combo.FromGroupsFile(cfg.SpeciesGroupsFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.MakeNullModels {
		combos = combo.NullCombos(combos)
		logger.Info("Expanded combinations into response-flip null variants",
			zap.Int("combos", len(combos)))
	}

	base := strings.TrimSuffix(path.Base(cfg.SpeciesGroupsFile), ".txt")
	responseDir := path.Join(cfg.OutputDir, base+"_response_matrices")
	files, err := solver.WriteResponseFiles(responseDir, combos)
	if err != nil {
		return nil, nil, err
	}
	return combos, files, nil
}

// geneNames decides which genes the registry tracks: the source alignment
// files, or, when reusing previously materialized masked alignments with
// no source directory, the contents of the first combination's folder.
func (o *Orchestrator) geneNames(sourceRecords []*alignment.Record, totalCombos int) ([]string, error) {

	if sourceRecords != nil {
		names := make([]string, 0, len(sourceRecords))
		for _, rec := range sourceRecords {
			names = append(names, rec.Gene)
		}
		return names, nil
	}

	dir := o.comboAlignmentsDir(0, totalCombos)
	records, err := alignment.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("could not list genes from existing alignments '%s': %w", dir, err)
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		names = append(names, rec.Gene)
	}
	return names, nil
}

// checkResumable gates the run on any existing checkpoint before a single
// file is written: a foreign fingerprint aborts, the fresh-start override
// deletes the checkpoint instead.
func (o *Orchestrator) checkResumable(fp map[string]any) error {

	cp := o.Checkpoint

	if o.Config.ForceFromBeginning {
		return cp.Clear()
	}
	if !cp.HasCheckpoint() {
		return nil
	}

	same, diffs, err := cp.SameCommand(fp)
	if err != nil {
		return err
	}
	if !same {
		return &checkpoint.ConfigMismatchError{Diffs: diffs}
	}
	return nil
}

// resume seeds the registries from the checkpoint and picks the loop start
// after the last committed combination. checkResumable has already settled
// whether the checkpoint may be used.
func (o *Orchestrator) resume(geneNames []string) (*registry.GeneRegistry, *registry.RunRegistry, int, error) {

	cp := o.Checkpoint

	if !cp.HasCheckpoint() {
		return registry.NewGeneRegistry(geneNames), registry.NewRunRegistry(), 0, nil
	}

	genes, runs, err := cp.LoadState()
	if err != nil {
		return nil, nil, 0, err
	}
	if genes == nil {
		genes = registry.NewGeneRegistry(geneNames)
	}

	last, ok := cp.LastCombo()
	if !ok {
		return genes, runs, 0, nil
	}

	logger.Info("Resuming from checkpoint", zap.Int("last_completed_combo", last))
	return genes, runs, last + 1, nil
}

// comboAlignmentsDir is where combination k's masked alignments live.
// Single-combination runs write into the canceled dir itself, matching
// the layout the solver and any pre-materialized reuse expects. In
// uncanceled mode every combination reads the raw source directory, so
// no per-combination subfolder exists.
func (o *Orchestrator) comboAlignmentsDir(k, totalCombos int) string {
	if o.Config.UseUncanceledAlignments || totalCombos <= 1 {
		return o.Config.CanceledAlignmentsDir
	}
	return path.Join(o.Config.CanceledAlignmentsDir, combo.AlignmentDirName(k))
}

// maskAlignments runs the gap-cancellation engine for one combination and
// writes the masked two-line fasta files, unless existing masked
// alignments are being reused.
func (o *Orchestrator) maskAlignments(k int, c combo.SpeciesCombination,
	sourceRecords []*alignment.Record, totalCombos int) (string, error) {

	cfg := &o.Config
	dir := o.comboAlignmentsDir(k, totalCombos)

	if cfg.UseExistingAlignments {
		if !util.DirExists(dir) {
			return "", fmt.Errorf("use_existing_alignments is set but '%s' does not exist", dir)
		}
		return dir, nil
	}

	policy := cancel.Policy{
		CancelOnlyPartner: cfg.CancelOnlyPartner,
		MinPairs:          cfg.MinPairs,
		OutgroupSpecies:   cfg.OutgroupSpecies,
		NixFullDeletions:  cfg.NixFullDeletions,
		CancelTriAllelic:  cfg.CancelTriAllelic,
	}

	res, err := cancel.CancelCombo(sourceRecords, c, policy)
	if err != nil {
		return "", err
	}
	logger.Info("Gap cancellation done",
		zap.String("combo", combo.Name(k)),
		zap.Int("genes", len(res.Records)),
		zap.Int("fully_canceled", res.FullyCanceled),
		zap.Int("suppressed", res.Suppressed))

	if err := util.ClearExistingFolder(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, rec := range res.Records {
		if err := alignment.WriteFile(dir, rec); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// integrateCombo invokes the external integration step for combination k,
// once normally or N times over pair-randomized alignments in null-model
// mode, and funnels every gene update through the registry.
func (o *Orchestrator) integrateCombo(ctx context.Context, k int, c combo.SpeciesCombination,
	comboDir, responseFile string, genes *registry.GeneRegistry) ([]*registry.RunRecord, error) {

	cfg := &o.Config

	if !cfg.MakePairRandomizedNullModels {
		res, err := o.Integrator.Integrate(ctx, solver.Request{
			ComboIdx:      k,
			ComboName:     combo.Name(k),
			AlignmentsDir: comboDir,
			ResponseFile:  responseFile,
			Lambda1Only:   cfg.Lambda1Only,
			OnlyPosGSS:    cfg.OnlyPosGSS,
		})
		if err != nil {
			return nil, err
		}
		genes.ApplyComboResult(res.GeneScores)
		return res.Runs, nil
	}

	rng := o.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(k) + 1))
	}

	var allRuns []*registry.RunRecord
	for n := 0; n < cfg.NumRandomizedAlignments; n++ {
		scrambledDir, err := o.writeScrambled(comboDir, rng)
		if err != nil {
			return nil, err
		}
		res, err := o.Integrator.Integrate(ctx, solver.Request{
			ComboIdx:      k,
			ComboName:     fmt.Sprintf("%s_%d", combo.Name(k), n),
			AlignmentsDir: scrambledDir,
			ResponseFile:  responseFile,
			Lambda1Only:   cfg.Lambda1Only,
			OnlyPosGSS:    cfg.OnlyPosGSS,
		})
		if err != nil {
			return nil, err
		}
		genes.ApplyComboResult(res.GeneScores)
		allRuns = append(allRuns, res.Runs...)
	}
	return allRuns, nil
}

// writeScrambled rebuilds the scrambled_alignments folder next to the
// masked alignments from pair-randomized copies of them.
func (o *Orchestrator) writeScrambled(comboDir string, rng *rand.Rand) (string, error) {

	records, err := alignment.Load(comboDir)
	if err != nil {
		return "", err
	}

	dir := path.Join(path.Dir(comboDir), "scrambled_alignments")
	if err := util.ClearExistingFolder(dir); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	for _, rec := range records {
		if err := alignment.WriteFile(dir, cancel.ScramblePairs(rec, rng)); err != nil {
			return "", err
		}
	}
	return dir, nil
}
