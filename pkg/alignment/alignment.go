// Loading and validation of per-gene fasta alignments.

package alignment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yumyai/eslmm/internal/util"
	"github.com/yumyai/eslmm/logger"
	"go.uber.org/zap"
)

// Defining possible errors
var ErrEmptyAlignment = errors.New("alignment file contains no records")

// InconsistentLengthError means two sequences in one alignment differ in
// length. The downstream preprocess step segfaults on such input, so this
// is always fatal.
type InconsistentLengthError struct {
	Gene     string
	FirstID  string
	FirstLen int
	BadID    string
	BadLen   int
}

func (e *InconsistentLengthError) Error() string {
	return fmt.Sprintf(
		"inconsistent sequence length in alignment '%s': sequence '%s' has length %d but sequence '%s' has length %d",
		e.Gene, e.FirstID, e.FirstLen, e.BadID, e.BadLen)
}

// Record is one gene alignment: an ordered mapping of species id to
// residue sequence. All sequences in a record have the same length.
type Record struct {
	Gene    string            // file name, e.g. "geneA.fas"
	Species []string          // species ids in file order
	Seqs    map[string][]byte // species id -> residues
}

// Len returns the alignment width (0 for an empty record).
func (r *Record) Len() int {
	if len(r.Species) == 0 {
		return 0
	}
	return len(r.Seqs[r.Species[0]])
}

// Seq returns the sequence for a species, or nil if absent.
func (r *Record) Seq(species string) []byte {
	return r.Seqs[species]
}

// Has reports whether a species appears in this record.
func (r *Record) Has(species string) bool {
	_, ok := r.Seqs[species]
	return ok
}

// Parse reads fasta records from r into an alignment Record named gene.
// Sequence bodies spanning multiple lines are concatenated; output is
// always written back as strict two-line fasta.
func Parse(r io.Reader, gene string) (*Record, error) {

	rec := &Record{
		Gene: gene,
		Seqs: make(map[string][]byte),
	}

	var current string
	var current_seq []byte

	flush := func() {
		if current == "" {
			return
		}
		rec.Species = append(rec.Species, current)
		rec.Seqs[current] = current_seq
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			flush()
			// header is the species id up to the first whitespace
			current = strings.Fields(line[1:])[0]
			current_seq = nil
		} else {
			if current == "" {
				return nil, fmt.Errorf("alignment '%s': sequence data before first fasta header", gene)
			}
			current_seq = append(current_seq, []byte(line)...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("alignment '%s': %w", gene, err)
	}
	flush()

	if len(rec.Species) == 0 {
		return nil, ErrEmptyAlignment
	}

	if err := Validate(rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// Validate checks the equal-length invariant of a record.
func Validate(rec *Record) error {
	first := rec.Species[0]
	expected := len(rec.Seqs[first])
	for _, sp := range rec.Species[1:] {
		if len(rec.Seqs[sp]) != expected {
			return &InconsistentLengthError{
				Gene:     rec.Gene,
				FirstID:  first,
				FirstLen: expected,
				BadID:    sp,
				BadLen:   len(rec.Seqs[sp]),
			}
		}
	}
	return nil
}

// Load reads every ".fas" file in dir into a Record, ordered by file name
// so combination runs are deterministic. A file that cannot be parsed as
// fasta is skipped with a warning; an inconsistent-length record is fatal.
func Load(dir string) ([]*Record, error) {

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read alignments directory '%s': %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !util.IsAlignmentFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var records []*Record
	for _, name := range names {
		f, err := os.Open(path.Join(dir, name))
		if err != nil {
			logger.Warn("Skipping unreadable alignment file", zap.String("file", name), zap.Error(err))
			continue
		}
		rec, err := Parse(f, name)
		f.Close()
		if err != nil {
			var lenErr *InconsistentLengthError
			if errors.As(err, &lenErr) {
				return nil, err // fatal, never tolerated
			}
			logger.Warn("Skipping alignment file that could not be parsed",
				zap.String("file", name), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// Write emits a record as two-line fasta, one header and one unwrapped
// sequence line per species, in record order.
func Write(w io.Writer, rec *Record) error {
	bw := bufio.NewWriter(w)
	for _, sp := range rec.Species {
		if _, err := fmt.Fprintf(bw, ">%s\n%s\n", sp, rec.Seqs[sp]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes a record to path in two-line fasta format.
func WriteFile(dir string, rec *Record) error {
	f, err := os.Create(path.Join(dir, rec.Gene))
	if err != nil {
		return err
	}
	if err := Write(f, rec); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SpeciesPresent scans every alignment file in dir and collects the set of
// species ids seen in any of them. Used to catch misspelled species names
// before any combination work begins.
func SpeciesPresent(dir string) (map[string]bool, error) {

	records, err := Load(dir)
	if err != nil {
		return nil, err
	}

	found := make(map[string]bool)
	for _, rec := range records {
		for _, sp := range rec.Species {
			found[sp] = true
		}
	}
	return found, nil
}

// LimitGenes filters records down to the gene file names listed one per
// line in genesFile. Order of the surviving records is preserved.
func LimitGenes(records []*Record, genesFile string) ([]*Record, error) {

	lines, err := util.FileLinesToList(genesFile)
	if err != nil {
		return nil, fmt.Errorf("could not read limited genes list '%s': %w", genesFile, err)
	}

	keep := make(map[string]bool, len(lines))
	for _, ln := range lines {
		keep[ln] = true
	}

	var out []*Record
	for _, rec := range records {
		if keep[rec.Gene] {
			out = append(out, rec)
		}
	}
	return out, nil
}
