// Expansion of a species-groups specification into the ordered list of
// concrete species combinations to run.

package combo

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yumyai/eslmm/internal/util"
	"github.com/yumyai/eslmm/logger"
	"go.uber.org/zap"
)

var (
	ErrEmptyGroupsFile = errors.New("species groups file is empty")
	ErrOddGroupCount   = errors.New("species groups file must have an even number of lines for pairwise comparisons")
	ErrOddComboSpecies = errors.New("combination must have an even number of species for pairwise comparisons")
)

// MissingSpeciesError names every species referenced by a combination that
// was not found in any source alignment.
type MissingSpeciesError struct {
	Species []string
	Dir     string
}

func (e *MissingSpeciesError) Error() string {
	return fmt.Sprintf(
		"the following species were not found in any alignment in '%s': %s (double check the spelling)",
		e.Dir, strings.Join(e.Species, ", "))
}

// SpeciesCombination is an ordered list of species ids. Even-indexed and
// odd-indexed entries form (subject, control) contrast pairs.
type SpeciesCombination []string

// Pairs splits the combination into consecutive 2-species pairs. The
// combination must have even length.
func (c SpeciesCombination) Pairs() [][2]string {
	pairs := make([][2]string, 0, len(c)/2)
	for i := 0; i+1 < len(c); i += 2 {
		pairs = append(pairs, [2]string{c[i], c[i+1]})
	}
	return pairs
}

func (c SpeciesCombination) String() string {
	return strings.Join(c, " ")
}

// Name returns the canonical directory-safe name for combination index i,
// shared by alignment subfolders, preprocess folders, and audit records.
func Name(i int) string {
	return fmt.Sprintf("combo_%d", i)
}

// AlignmentDirName is the per-combination masked alignments subfolder name.
func AlignmentDirName(i int) string {
	return Name(i) + "-alignments"
}

// ParseGroupsFile reads a species groups file: one comma-delimited species
// list per line, an even number of lines, consecutive line pairs holding
// the interchangeable candidates for each member of a contrast pair.
func ParseGroupsFile(groupsPath string) ([][]string, error) {

	lines, err := util.FileLinesToList(groupsPath)
	if err != nil {
		return nil, fmt.Errorf("could not read species groups file '%s': %w", groupsPath, err)
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyGroupsFile, groupsPath)
	}
	if len(lines)%2 != 0 {
		return nil, fmt.Errorf("%w: found %d lines in %s", ErrOddGroupCount, len(lines), groupsPath)
	}

	var groups [][]string
	for i, line := range lines {
		var group []string
		for _, sp := range strings.Split(line, ",") {
			sp = strings.TrimSpace(sp)
			if sp == "" {
				return nil, fmt.Errorf(
					"invalid format in species groups file '%s' on line %d: empty species name (check for extra or trailing commas): '%s'",
					groupsPath, i+1, line)
			}
			group = append(group, sp)
		}
		groups = append(groups, group)
	}

	return groups, nil
}

// Enumerate expands group lines into the full cartesian product, one
// species drawn from every line, in row-major order. The result is
// deterministic for a given groups file.
func Enumerate(groups [][]string) []SpeciesCombination {

	combos := []SpeciesCombination{{}}
	for _, group := range groups {
		next := make([]SpeciesCombination, 0, len(combos)*len(group))
		for _, combo := range combos {
			for _, sp := range group {
				extended := make(SpeciesCombination, len(combo), len(combo)+1)
				copy(extended, combo)
				next = append(next, append(extended, sp))
			}
		}
		combos = next
	}

	logger.Info("Generated species combinations from groups file",
		zap.Int("combos", len(combos)))
	return combos
}

// NullCombos expands every combination into all of its response-flip
// variants: each contrast pair is either kept or has its two species
// swapped, so a combination with p pairs becomes 2^p combinations. The
// unflipped variant comes first; used for null-model runs where the true
// response assignment is deliberately broken.
func NullCombos(combos []SpeciesCombination) []SpeciesCombination {

	var out []SpeciesCombination
	for _, c := range combos {
		pairs := c.Pairs()
		for mask := 0; mask < 1<<len(pairs); mask++ {
			variant := make(SpeciesCombination, 0, len(c))
			for j, pr := range pairs {
				if mask&(1<<j) != 0 {
					variant = append(variant, pr[1], pr[0])
				} else {
					variant = append(variant, pr[0], pr[1])
				}
			}
			out = append(out, variant)
		}
	}
	return out
}

// FromGroupsFile parses and enumerates in one step.
func FromGroupsFile(groupsPath string) ([]SpeciesCombination, error) {
	groups, err := ParseGroupsFile(groupsPath)
	if err != nil {
		return nil, err
	}
	return Enumerate(groups), nil
}

// FromResponseDir reads pre-materialized response matrix files: every
// ".txt" file in dir is one combination, species id and response value per
// line, sorted by file name for deterministic ordering.
func FromResponseDir(dir string) ([]SpeciesCombination, []string, error) {

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("could not read response directory '%s': %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var combos []SpeciesCombination
	var files []string
	for _, name := range names {
		full := path.Join(dir, name)
		lines, err := util.FileLinesToList(full)
		if err != nil {
			return nil, nil, err
		}
		var combo SpeciesCombination
		for _, ln := range lines {
			// response lines look like "species\t1" or "species 1"
			fields := strings.Fields(strings.ReplaceAll(ln, "\t", " "))
			if len(fields) == 0 {
				continue
			}
			combo = append(combo, fields[0])
		}
		if len(combo) == 0 {
			return nil, nil, fmt.Errorf("response matrix file '%s' names no species", full)
		}
		if len(combo)%2 != 0 {
			return nil, nil, fmt.Errorf("%w: %d species in '%s'", ErrOddComboSpecies, len(combo), full)
		}
		combos = append(combos, combo)
		files = append(files, full)
	}

	if len(combos) == 0 {
		return nil, nil, fmt.Errorf("no response matrix files found in '%s'", dir)
	}
	return combos, files, nil
}

// ValidateAgainstStore checks that every species in every combination
// appears in at least one source alignment. The error names all missing
// species at once so a bad groups file can be fixed in one pass.
func ValidateAgainstStore(combos []SpeciesCombination, present map[string]bool, alignmentsDir string) error {

	missing := make(map[string]bool)
	for _, combo := range combos {
		for _, sp := range combo {
			if !present[sp] {
				missing[sp] = true
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	names := make([]string, 0, len(missing))
	for sp := range missing {
		names = append(names, sp)
	}
	sort.Strings(names)
	return &MissingSpeciesError{Species: names, Dir: alignmentsDir}
}
