// Gap cancellation: masking of unreliable alignment columns for one
// species combination before the sparse-learning step sees them.

package cancel

import (
	"errors"
	"fmt"

	"github.com/yumyai/eslmm/pkg/alignment"
	"github.com/yumyai/eslmm/pkg/combo"
)

// Gap is the masking character shared with the fasta alignments.
const Gap = byte('-')

var ErrAllGenesCanceled = errors.New("all alignments for this species combination would consist entirely of gaps")

// Policy holds the recognized gap-cancellation options.
type Policy struct {
	// Cancel only the contrast partner of a gapped species instead of
	// the whole column.
	CancelOnlyPartner bool
	// Minimum number of gap-free pairs a column must retain or the
	// whole column is canceled.
	MinPairs int
	// If set, control species must match this species at every column
	// that survived the gap rules, or the whole column is canceled.
	OutgroupSpecies string
	// Do not emit output for genes that end up fully canceled.
	NixFullDeletions bool
	// Cancel columns with exactly three distinct residues (4-species
	// combinations only).
	CancelTriAllelic bool
}

// CancelRecord produces a new alignment restricted to the combination's
// species with columns masked according to policy. Species missing from
// the source record are synthesized as all-gap rows. The input record is
// never modified.
//
// The masking steps run in a fixed order and only ever strengthen masking,
// so applying CancelRecord to its own output is a no-op. Downstream
// statistical comparability depends on this exact ordering; do not
// "simplify" the outgroup or tri-allelic branches.
func CancelRecord(rec *alignment.Record, c combo.SpeciesCombination, p Policy) *alignment.Record {

	width := rec.Len()

	out := &alignment.Record{
		Gene:    rec.Gene,
		Species: make([]string, 0, len(c)),
		Seqs:    make(map[string][]byte, len(c)),
	}

	seqs := make([][]byte, 0, len(c))
	for _, sp := range c {
		var seq []byte
		if src := rec.Seq(sp); src != nil {
			seq = append([]byte(nil), src...)
		} else {
			seq = make([]byte, width)
			for i := range seq {
				seq[i] = Gap
			}
		}
		out.Species = append(out.Species, sp)
		out.Seqs[sp] = seq
		seqs = append(seqs, seq)
	}

	// The outgroup is read from the source record: it constrains the
	// controls without having to be part of the combination itself.
	var outgroupSeq []byte
	if p.OutgroupSpecies != "" {
		outgroupSeq = rec.Seq(p.OutgroupSpecies)
	}

	n := len(seqs)
	for i := 0; i < width; i++ {

		hasGap := false
		for _, s := range seqs {
			if s[i] == Gap {
				hasGap = true
				break
			}
		}

		cancelColumn := func() {
			for _, s := range seqs {
				s[i] = Gap
			}
		}

		if p.CancelOnlyPartner && hasGap {
			pairsLeft := n / 2
			for j := 0; j+1 < n; j += 2 {
				if seqs[j][i] == Gap || seqs[j+1][i] == Gap {
					seqs[j][i] = Gap
					seqs[j+1][i] = Gap
					pairsLeft--
				}
			}
			if pairsLeft < p.MinPairs {
				cancelColumn()
				continue // column fully canceled, later rules moot
			}
		} else if hasGap {
			cancelColumn()
		}

		// Outgroup mismatch check is skipped whenever the gap rules saw a
		// gap at this column, even if partner cancellation left residues.
		if outgroupSeq != nil && !hasGap {
			og := outgroupSeq[i]
			if og != Gap {
				for j := 1; j < n; j += 2 {
					if seqs[j][i] != og {
						cancelColumn()
						break
					}
				}
			}
		}

		if p.CancelTriAllelic && n == 4 {
			distinct := make(map[byte]bool, 4)
			for _, s := range seqs {
				distinct[s[i]] = true
			}
			if len(distinct) == 3 {
				cancelColumn()
			}
		}
	}

	return out
}

// FullyCanceled reports whether every sequence of a record is all gaps.
func FullyCanceled(rec *alignment.Record) bool {
	for _, sp := range rec.Species {
		for _, b := range rec.Seqs[sp] {
			if b != Gap {
				return false
			}
		}
	}
	return true
}

// Result is the outcome of canceling one combination's alignment set.
type Result struct {
	Records       []*alignment.Record // masked records, suppressed genes omitted
	FullyCanceled int                 // genes whose masked output was all gaps
	Suppressed    int                 // genes dropped because of NixFullDeletions
}

// CancelCombo masks every record for one species combination. Genes that
// end up fully canceled are counted and, with NixFullDeletions, dropped
// from the output. If no gene retains a single non-gap residue the
// combination cannot be analyzed and ErrAllGenesCanceled is returned;
// checkpoint state committed for earlier combinations stays valid.
func CancelCombo(records []*alignment.Record, c combo.SpeciesCombination, p Policy) (*Result, error) {

	res := &Result{}
	anyValid := false

	for _, rec := range records {
		masked := CancelRecord(rec, c, p)

		missing := false
		for _, sp := range c {
			if !rec.Has(sp) {
				missing = true
				break
			}
		}

		full := FullyCanceled(masked)
		if full {
			res.FullyCanceled++
		}
		if p.NixFullDeletions && (full || missing) {
			res.Suppressed++
			continue
		}
		if !full {
			anyValid = true
		}
		res.Records = append(res.Records, masked)
	}

	if len(records) > 0 && !anyValid {
		return nil, fmt.Errorf("%w: combo %s (species may be missing from most source alignments, or min_pairs=%d is never met)",
			ErrAllGenesCanceled, c, p.MinPairs)
	}

	return res, nil
}
