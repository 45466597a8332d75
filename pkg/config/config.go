// Run configuration: YAML-loadable, flag-overridable, and the source of
// the checkpoint fingerprint.

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every knob of a multi-combination run. Zero values are
// meaningful (empty path = derive it, false = off), so the fingerprint can
// be built from the struct directly.
type Config struct {
	// Inputs
	AlignmentsDir     string `yaml:"alignments_dir"`
	SpeciesGroupsFile string `yaml:"species_groups_file"`
	ResponseDir       string `yaml:"response_dir"`
	LimitedGenesList  string `yaml:"limited_genes_list"`

	// Gap cancellation policy
	CancelOnlyPartner bool   `yaml:"cancel_only_partner"`
	MinPairs          int    `yaml:"min_pairs"`
	OutgroupSpecies   string `yaml:"outgroup_species"`
	NixFullDeletions  bool   `yaml:"nix_full_deletions"`
	CancelTriAllelic  bool   `yaml:"cancel_tri_allelic"`

	// Alignment reuse
	CanceledAlignmentsDir   string `yaml:"canceled_alignments_dir"`
	UseExistingAlignments   bool   `yaml:"use_existing_alignments"`
	UseUncanceledAlignments bool   `yaml:"use_uncanceled_alignments"`

	// Solver / preprocess
	SolverBin             string  `yaml:"solver_bin"`
	ESLMainDir            string  `yaml:"esl_main_dir"`
	ESLInputsOutputsDir   string  `yaml:"esl_inputs_outputs_dir"`
	UseExistingPreprocess bool    `yaml:"use_existing_preprocess"`
	DeletePreprocess      bool    `yaml:"delete_preprocess"`
	Lambda1Only           bool    `yaml:"lambda1_only"`
	OnlyPosGSS            bool    `yaml:"only_pos_gss"`
	TopRankFrac           float64 `yaml:"top_rank_frac"`

	// Null models
	MakeNullModels               bool `yaml:"make_null_models"`
	MakePairRandomizedNullModels bool `yaml:"make_pair_randomized_null_models"`
	NumRandomizedAlignments      int  `yaml:"num_randomized_alignments"`

	// Outputs
	OutputDir      string `yaml:"output_dir"`
	OutputBaseName string `yaml:"output_file_base_name"`
	MakeSPSPlot    bool   `yaml:"make_sps_plot"`
	MakeSPSKDEPlot bool   `yaml:"make_sps_kde_plot"`

	// Checkpoint control
	NoCheckpoint       bool `yaml:"no_checkpoint"`
	ForceFromBeginning bool `yaml:"force_from_beginning"`
}

// Default returns a config with the conventional defaults.
func Default() Config {
	return Config{
		MinPairs:                2,
		TopRankFrac:             0.01,
		NumRandomizedAlignments: 10,
		OutputBaseName:          "eslmm",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read config file '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("could not parse config file '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks the basics before any combination work begins, so a bad
// configuration never leaves partial state behind.
func (c *Config) Validate() error {
	if c.SpeciesGroupsFile == "" && c.ResponseDir == "" {
		return fmt.Errorf("must give either species_groups_file or a response_dir with matrices")
	}
	if c.AlignmentsDir == "" && !(c.UseExistingAlignments && c.CanceledAlignmentsDir != "") {
		return fmt.Errorf("alignments_dir must be provided")
	}
	if c.UseExistingAlignments && c.CanceledAlignmentsDir == "" {
		return fmt.Errorf("use_existing_alignments requires canceled_alignments_dir")
	}
	if c.MinPairs < 0 {
		return fmt.Errorf("min_pairs must not be negative")
	}
	if c.TopRankFrac <= 0 || c.TopRankFrac > 1 {
		return fmt.Errorf("top_rank_frac must be in (0, 1]")
	}
	return c.validatePaths()
}

// validatePaths verifies that every provided path actually exists.
func (c *Config) validatePaths() error {
	paths := map[string]string{
		"alignments_dir":      c.AlignmentsDir,
		"species_groups_file": c.SpeciesGroupsFile,
		"response_dir":        c.ResponseDir,
		"limited_genes_list":  c.LimitedGenesList,
		"esl_main_dir":        c.ESLMainDir,
	}
	if c.UseExistingAlignments {
		paths["canceled_alignments_dir"] = c.CanceledAlignmentsDir
	}

	var problems []string
	for name, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			problems = append(problems, fmt.Sprintf("%s = '%s'", name, p))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("the following paths were provided but do not exist on disk:\n%s",
			strings.Join(problems, "\n"))
	}
	return nil
}

// ApplyDerivedDefaults fills the paths that are derived from other
// settings when the user did not supply them.
func (c *Config) ApplyDerivedDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.ESLInputsOutputsDir == "" {
		c.ESLInputsOutputsDir = "preprocessed_data_and_outputs"
	}
	if c.UseUncanceledAlignments {
		c.CanceledAlignmentsDir = c.AlignmentsDir
		c.UseExistingAlignments = true
	}
	if c.CanceledAlignmentsDir == "" {
		base := strings.TrimSuffix(c.SpeciesGroupsFile, ".txt")
		if base == "" {
			base = c.OutputBaseName
		}
		c.CanceledAlignmentsDir = base + "_gap-canceled_alignments"
	}
}

// Fingerprint flattens the configuration into the key/value map stored in
// checkpoint/command.json. Keys match the YAML names; the checkpoint layer
// decides which of them are benign.
func (c *Config) Fingerprint() map[string]any {
	return map[string]any{
		"alignments_dir":                   c.AlignmentsDir,
		"species_groups_file":              c.SpeciesGroupsFile,
		"response_dir":                     c.ResponseDir,
		"limited_genes_list":               c.LimitedGenesList,
		"cancel_only_partner":              c.CancelOnlyPartner,
		"min_pairs":                        c.MinPairs,
		"outgroup_species":                 c.OutgroupSpecies,
		"nix_full_deletions":               c.NixFullDeletions,
		"cancel_tri_allelic":               c.CancelTriAllelic,
		"canceled_alignments_dir":          c.CanceledAlignmentsDir,
		"use_existing_alignments":          c.UseExistingAlignments,
		"use_uncanceled_alignments":        c.UseUncanceledAlignments,
		"solver_bin":                       c.SolverBin,
		"esl_main_dir":                     c.ESLMainDir,
		"esl_inputs_outputs_dir":           c.ESLInputsOutputsDir,
		"use_existing_preprocess":          c.UseExistingPreprocess,
		"delete_preprocess":                c.DeletePreprocess,
		"lambda1_only":                     c.Lambda1Only,
		"only_pos_gss":                     c.OnlyPosGSS,
		"top_rank_frac":                    c.TopRankFrac,
		"make_null_models":                 c.MakeNullModels,
		"make_pair_randomized_null_models": c.MakePairRandomizedNullModels,
		"num_randomized_alignments":        c.NumRandomizedAlignments,
		"output_dir":                       c.OutputDir,
		"output_file_base_name":            c.OutputBaseName,
		"make_sps_plot":                    c.MakeSPSPlot,
		"make_sps_kde_plot":                c.MakeSPSKDEPlot,
		"no_checkpoint":                    c.NoCheckpoint,
		"force_from_beginning":             c.ForceFromBeginning,
	}
}
