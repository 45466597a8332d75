// Crash-safe checkpointing for multi-combination runs.
//
// Files created inside <output_dir>/checkpoint:
//
//	command.json - configuration fingerprint of the first run (write-once)
//	meta.txt     - last completed combination index (single integer)
//	state.json   - gene and run registries, atomically replaced each commit
//	runs.jsonl   - append-only per-run audit records (one JSON per run)
//
// A later invocation resumes only if its configuration fingerprint matches
// the stored one; otherwise the caller must pass the force-from-beginning
// override, which deletes the checkpoint and starts fresh.

package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/yumyai/eslmm/pkg/registry"
)

// ConfigMismatchError reports every fingerprint key that differs between
// the stored command and the current one.
type ConfigMismatchError struct {
	Diffs []string
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf(
		"checkpoint exists but the run configuration differs; use the fresh-start override or fix these keys:\n  %s",
		strings.Join(e.Diffs, "\n  "))
}

// state is the on-disk layout of state.json.
type state struct {
	GeneRegistry *registry.GeneRegistry `json:"gene_registry"`
	RunRegistry  *registry.RunRegistry  `json:"run_registry"`
}

// auditLine is one runs.jsonl record.
type auditLine struct {
	Combo       int     `json:"combo"`
	Lambda1     float64 `json:"lambda1"`
	Lambda2     float64 `json:"lambda2"`
	PenaltyTerm float64 `json:"penalty_term"`
	InputRMSE   float64 `json:"input_rmse"`
}

// Manager saves and loads per-combination checkpoints. A disabled manager
// turns every operation into a no-op so callers need no branching.
type Manager struct {
	dir      string
	disabled bool

	runsFile  string
	metaFile  string
	cmdFile   string
	stateFile string
}

// New returns a manager rooted at <outputDir>/checkpoint.
func New(outputDir string) *Manager {
	dir := path.Join(outputDir, "checkpoint")
	return &Manager{
		dir:       dir,
		runsFile:  path.Join(dir, "runs.jsonl"),
		metaFile:  path.Join(dir, "meta.txt"),
		cmdFile:   path.Join(dir, "command.json"),
		stateFile: path.Join(dir, "state.json"),
	}
}

// Disabled returns a manager that never touches disk (--no-checkpoint).
func Disabled() *Manager {
	return &Manager{disabled: true}
}

func (m *Manager) Enabled() bool {
	return !m.disabled
}

// Dir returns the checkpoint directory path ("" when disabled).
func (m *Manager) Dir() string {
	return m.dir
}

// HasCheckpoint reports whether checkpoint metadata exists on disk.
func (m *Manager) HasCheckpoint() bool {
	if m.disabled {
		return false
	}
	_, err := os.Stat(m.metaFile)
	return err == nil
}

// LastCombo returns the last completed combination index. ok is false when
// no checkpoint exists or the marker is unreadable.
func (m *Manager) LastCombo() (int, bool) {
	if m.disabled {
		return 0, false
	}
	raw, err := os.ReadFile(m.metaFile)
	if err != nil {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, false
	}
	return idx, true
}

// LoadCommand returns the stored fingerprint, or nil if absent.
func (m *Manager) LoadCommand() (map[string]any, error) {
	if m.disabled {
		return nil, nil
	}
	raw, err := os.ReadFile(m.cmdFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cmd map[string]any
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint command file '%s': %w", m.cmdFile, err)
	}
	return cmd, nil
}

// Keys ignored when comparing fingerprints: paths that are regenerated,
// plot toggles, and the checkpoint-control flags themselves.
var ignoredKeys = map[string]bool{
	"esl_inputs_outputs_dir":    true,
	"esl_main_dir":              true,
	"canceled_alignments_dir":   true,
	"use_existing_preprocess":   true,
	"delete_preprocess":         true,
	"use_uncanceled_alignments": true,
	"make_sps_plot":             true,
	"make_sps_kde_plot":         true,
	"no_checkpoint":             true,
	"force_from_beginning":      true,
}

// SameCommand compares the current fingerprint against the stored one
// under the resume equivalence relation. The returned diff list has one
// "key: stored=... current=..." entry per mismatched key.
func (m *Manager) SameCommand(current map[string]any) (bool, []string, error) {
	stored, err := m.LoadCommand()
	if err != nil {
		return false, nil, err
	}
	if stored == nil {
		return false, []string{"<no stored command>"}, nil
	}

	keys := make(map[string]bool)
	for k := range stored {
		keys[k] = true
	}
	for k := range current {
		keys[k] = true
	}

	var diffs []string
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if ignoredKeys[k] {
			continue
		}
		if !valuesEqual(stored[k], current[k], k) {
			diffs = append(diffs, fmt.Sprintf("%s: stored=%v current=%v", k, stored[k], current[k]))
		}
	}
	return len(diffs) == 0, diffs, nil
}

// valuesEqual applies the type-aware equivalence rules for single keys.
func valuesEqual(a, b any, key string) bool {
	// nil and false are equivalent for these boolean-like flags
	if key == "only_pos_gss" || key == "lambda1_only" {
		if (a == nil && b == false) || (a == false && b == nil) {
			return true
		}
	}
	// a derived alignments path equals anything when either side is empty
	if key == "alignments_dir" {
		if a == nil || a == "" || b == nil || b == "" {
			return true
		}
	}
	// auto-upgrade of use_existing_alignments is allowed on resume
	if key == "use_existing_alignments" {
		if (a == nil || a == false) && b == true {
			return true
		}
		if (b == nil || b == false) && a == true {
			return true
		}
	}
	return jsonEqual(a, b)
}

// jsonEqual compares two values through their canonical JSON encoding so
// that e.g. int(2) from a config struct equals float64(2) read back from
// command.json.
func jsonEqual(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ja) == string(jb)
}

// LoadState returns the saved registries, or fresh empty ones if no state
// file exists.
func (m *Manager) LoadState() (*registry.GeneRegistry, *registry.RunRegistry, error) {
	if m.disabled {
		return nil, registry.NewRunRegistry(), nil
	}
	raw, err := os.ReadFile(m.stateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, registry.NewRunRegistry(), nil
	}
	if err != nil {
		return nil, nil, err
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, nil, fmt.Errorf("corrupt checkpoint state file '%s': %w", m.stateFile, err)
	}
	if st.RunRegistry == nil {
		st.RunRegistry = registry.NewRunRegistry()
	}
	return st.GeneRegistry, st.RunRegistry, nil
}

// Save persists the full checkpoint after finishing comboIdx.
//
// Durability protocol, in order:
//  1. append one audit line per new run (the audit log is never rewritten)
//  2. serialize the registries to a temp file, fsync, atomically rename
//     over state.json, so there is no window with a partial state file
//  3. only after the rename, overwrite the last-completed-index marker
//  4. write command.json once, on the very first commit only
//
// A crash between (2) and (3) leaves meta.txt pointing at the previous
// combination, whose effects the freshly renamed state file also contains,
// so resume re-runs the in-flight combination and never skips or
// duplicates work.
func (m *Manager) Save(comboIdx int, genes *registry.GeneRegistry, runs *registry.RunRegistry,
	cmd map[string]any, newRuns []*registry.RunRecord) error {

	if m.disabled {
		return nil
	}

	// the directory may have been removed by a fresh-start override
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	if err := m.appendRunAudit(comboIdx, newRuns); err != nil {
		return err
	}

	raw, err := json.Marshal(state{GeneRegistry: genes, RunRegistry: runs})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(m.dir, "state-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), m.stateFile); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	if err := os.WriteFile(m.metaFile, []byte(strconv.Itoa(comboIdx)), 0o644); err != nil {
		return err
	}

	if _, err := os.Stat(m.cmdFile); errors.Is(err, fs.ErrNotExist) {
		rawCmd, err := json.MarshalIndent(cmd, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(m.cmdFile, rawCmd, 0o644); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) appendRunAudit(comboIdx int, runs []*registry.RunRecord) error {
	if len(runs) == 0 {
		return nil
	}
	f, err := os.OpenFile(m.runsFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, run := range runs {
		line, err := json.Marshal(auditLine{
			Combo:       comboIdx,
			Lambda1:     run.Lambda1,
			Lambda2:     run.Lambda2,
			PenaltyTerm: run.PenaltyTerm,
			InputRMSE:   run.InputRMSE,
		})
		if err != nil {
			f.Close()
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Clear deletes the entire checkpoint directory. Only an explicit
// fresh-start override calls this.
func (m *Manager) Clear() error {
	if m.disabled {
		return nil
	}
	return os.RemoveAll(m.dir)
}
