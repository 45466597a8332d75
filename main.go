package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/yumyai/eslmm/logger"
	"github.com/yumyai/eslmm/pkg/checkpoint"
	"github.com/yumyai/eslmm/pkg/combo"
	"github.com/yumyai/eslmm/pkg/config"
	"github.com/yumyai/eslmm/pkg/pipeline"
	"github.com/yumyai/eslmm/pkg/solver"
	"go.uber.org/zap"
)

const VERSION = "0.1.0"

var (
	cfgFile string
	cfg     = config.Default()
)

func main() {

	// Establish logger before anything else
	logLevel := logger.ParseLevel(os.Getenv("ESLMM_LOG_LEVEL"))
	if err := logger.InitLogger(logLevel); err != nil {
		panic(err)
	}

	// Try load env
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env found, using local environment")
	}

	defer logger.Sync() // Make sure that the buffer is flushed.

	if err := newRootCmd().Execute(); err != nil {
		logger.Error("Run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {

	root := &cobra.Command{
		Use:           "eslmm",
		Short:         "Resumable multi-combination ESL-PSC integration runner",
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newCancelCmd())
	root.AddCommand(newCombosCmd())

	return root
}

// addConfigFlags wires the shared run-configuration flags onto a command.
// Flags given on the command line override values from --config.
func addConfigFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.StringVar(&cfgFile, "config", "", "YAML config file; flags override its values")

	f.StringVar(&cfg.AlignmentsDir, "alignments-dir", cfg.AlignmentsDir,
		"directory of two-line fasta source alignments (.fas)")
	f.StringVar(&cfg.SpeciesGroupsFile, "species-groups-file", cfg.SpeciesGroupsFile,
		"species groups file, one comma-delimited list per line, even line count")
	f.StringVar(&cfg.ResponseDir, "response-dir", cfg.ResponseDir,
		"directory of pre-materialized response matrix files")
	f.StringVar(&cfg.LimitedGenesList, "limited-genes-list", cfg.LimitedGenesList,
		"use only genes in this list, one alignment file name per line")

	f.BoolVar(&cfg.CancelOnlyPartner, "cancel-only-partner", cfg.CancelOnlyPartner,
		"only cancel the partner of any gap species at a site")
	f.IntVar(&cfg.MinPairs, "min-pairs", cfg.MinPairs,
		"number of pairs that must be gap-free or the whole site is canceled")
	f.StringVar(&cfg.OutgroupSpecies, "outgroup-species", cfg.OutgroupSpecies,
		"require controls to match this species, or cancel the site")
	f.BoolVar(&cfg.NixFullDeletions, "nix-full-deletions", cfg.NixFullDeletions,
		"don't create files for fully canceled genes")
	f.BoolVar(&cfg.CancelTriAllelic, "cancel-tri-allelic", cfg.CancelTriAllelic,
		"cancel tri-allelic sites (4-species combinations only)")

	f.StringVar(&cfg.CanceledAlignmentsDir, "canceled-alignments-dir", cfg.CanceledAlignmentsDir,
		"where gap-canceled alignments are written (or found)")
	f.BoolVar(&cfg.UseExistingAlignments, "use-existing-alignments", cfg.UseExistingAlignments,
		"reuse existing files in canceled-alignments-dir")
	f.BoolVar(&cfg.UseUncanceledAlignments, "use-uncanceled-alignments", cfg.UseUncanceledAlignments,
		"use the source alignments for all matrices without gap canceling")
}

func newRunCmd() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full multi-combination integration pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd); err != nil {
				return err
			}

			if cfg.SolverBin == "" {
				cfg.SolverBin = os.Getenv("ESLMM_SOLVER")
			}
			if cfg.SolverBin == "" {
				return fmt.Errorf("no solver binary configured (--solver-bin or ESLMM_SOLVER)")
			}

			var cp *checkpoint.Manager
			if cfg.NoCheckpoint {
				cp = checkpoint.Disabled()
			} else {
				cp = checkpoint.New(cfg.OutputDir)
			}

			logger.Info("Start", zap.String("version", VERSION))

			orch := pipeline.New(cfg, &solver.Subprocess{Bin: cfg.SolverBin}, cp)
			return orch.Run(cmd.Context())
		},
	}

	addConfigFlags(cmd)
	f := cmd.Flags()
	f.StringVar(&cfg.SolverBin, "solver-bin", cfg.SolverBin,
		"external integration solver binary (default $ESLMM_SOLVER)")
	f.Float64Var(&cfg.TopRankFrac, "top-rank-frac", cfg.TopRankFrac,
		"fraction of genes to count as top genes")
	f.BoolVar(&cfg.DeletePreprocess, "delete-preprocess", cfg.DeletePreprocess,
		"clear intermediate folders after each combination")
	f.BoolVar(&cfg.MakeNullModels, "make-null-models", cfg.MakeNullModels,
		"expand each combination into all response-flip variants")
	f.BoolVar(&cfg.MakePairRandomizedNullModels, "make-pair-randomized-null-models", cfg.MakePairRandomizedNullModels,
		"repeat each combination over pair-randomized alignments")
	f.IntVar(&cfg.NumRandomizedAlignments, "num-randomized-alignments", cfg.NumRandomizedAlignments,
		"number of pair-randomized alignments per combination")
	f.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "output directory")
	f.StringVar(&cfg.OutputBaseName, "output-base-name", cfg.OutputBaseName, "base name for output files")
	f.BoolVar(&cfg.NoCheckpoint, "no-checkpoint", cfg.NoCheckpoint,
		"disable checkpointing entirely")
	f.BoolVar(&cfg.ForceFromBeginning, "force-from-beginning", cfg.ForceFromBeginning,
		"delete any existing checkpoint and start fresh")

	return cmd
}

func newCancelCmd() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Generate gap-canceled alignments only, without running the solver",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd); err != nil {
				return err
			}
			// alignment side of the pipeline only, no solver needed
			orch := pipeline.New(cfg, nil, checkpoint.Disabled())
			return orch.MaskAll(cmd.Context())
		},
	}

	addConfigFlags(cmd)
	return cmd
}

func newCombosCmd() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "combos",
		Short: "Print the enumerated species combinations for a groups file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd); err != nil {
				return err
			}
			if cfg.SpeciesGroupsFile == "" {
				return fmt.Errorf("--species-groups-file is required")
			}
			combos, err := combo.FromGroupsFile(cfg.SpeciesGroupsFile)
			if err != nil {
				return err
			}
			for i, c := range combos {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", combo.Name(i), c)
			}
			return nil
		},
	}

	addConfigFlags(cmd)
	return cmd
}

// loadConfigFile layers the YAML config under any explicitly set flags.
func loadConfigFile(cmd *cobra.Command) error {
	if cfgFile == "" {
		return nil
	}
	fromFlags := cfg
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded
	reapplyChangedFlags(cmd, fromFlags)
	return nil
}

// reapplyChangedFlags copies back every value the user set explicitly on
// the command line, so flags always win over the config file.
func reapplyChangedFlags(cmd *cobra.Command, fromFlags config.Config) {
	set := map[string]func(){
		"alignments-dir":                   func() { cfg.AlignmentsDir = fromFlags.AlignmentsDir },
		"species-groups-file":              func() { cfg.SpeciesGroupsFile = fromFlags.SpeciesGroupsFile },
		"response-dir":                     func() { cfg.ResponseDir = fromFlags.ResponseDir },
		"limited-genes-list":               func() { cfg.LimitedGenesList = fromFlags.LimitedGenesList },
		"cancel-only-partner":              func() { cfg.CancelOnlyPartner = fromFlags.CancelOnlyPartner },
		"min-pairs":                        func() { cfg.MinPairs = fromFlags.MinPairs },
		"outgroup-species":                 func() { cfg.OutgroupSpecies = fromFlags.OutgroupSpecies },
		"nix-full-deletions":               func() { cfg.NixFullDeletions = fromFlags.NixFullDeletions },
		"cancel-tri-allelic":               func() { cfg.CancelTriAllelic = fromFlags.CancelTriAllelic },
		"canceled-alignments-dir":          func() { cfg.CanceledAlignmentsDir = fromFlags.CanceledAlignmentsDir },
		"use-existing-alignments":          func() { cfg.UseExistingAlignments = fromFlags.UseExistingAlignments },
		"use-uncanceled-alignments":        func() { cfg.UseUncanceledAlignments = fromFlags.UseUncanceledAlignments },
		"solver-bin":                       func() { cfg.SolverBin = fromFlags.SolverBin },
		"top-rank-frac":                    func() { cfg.TopRankFrac = fromFlags.TopRankFrac },
		"delete-preprocess":                func() { cfg.DeletePreprocess = fromFlags.DeletePreprocess },
		"make-null-models":                 func() { cfg.MakeNullModels = fromFlags.MakeNullModels },
		"make-pair-randomized-null-models": func() { cfg.MakePairRandomizedNullModels = fromFlags.MakePairRandomizedNullModels },
		"num-randomized-alignments":        func() { cfg.NumRandomizedAlignments = fromFlags.NumRandomizedAlignments },
		"output-dir":                       func() { cfg.OutputDir = fromFlags.OutputDir },
		"output-base-name":                 func() { cfg.OutputBaseName = fromFlags.OutputBaseName },
		"no-checkpoint":                    func() { cfg.NoCheckpoint = fromFlags.NoCheckpoint },
		"force-from-beginning":             func() { cfg.ForceFromBeginning = fromFlags.ForceFromBeginning },
	}
	for name, apply := range set {
		if flag := cmd.Flags().Lookup(name); flag != nil && flag.Changed {
			apply()
		}
	}
}
