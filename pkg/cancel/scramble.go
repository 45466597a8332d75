package cancel

import (
	"math/rand"

	"github.com/yumyai/eslmm/pkg/alignment"
)

// ScramblePairs returns a copy of a combination-ordered record in which
// the two residues of each contrast pair are independently either swapped
// or kept at every column. Used to build pair-randomized null models that
// decouple true convergence signal from the response.
func ScramblePairs(rec *alignment.Record, rng *rand.Rand) *alignment.Record {

	out := &alignment.Record{
		Gene:    rec.Gene,
		Species: append([]string(nil), rec.Species...),
		Seqs:    make(map[string][]byte, len(rec.Species)),
	}

	seqs := make([][]byte, 0, len(rec.Species))
	for _, sp := range rec.Species {
		seq := append([]byte(nil), rec.Seqs[sp]...)
		out.Seqs[sp] = seq
		seqs = append(seqs, seq)
	}

	width := rec.Len()
	for i := 0; i < width; i++ {
		for j := 0; j+1 < len(seqs); j += 2 {
			if rng.Intn(2) == 1 {
				seqs[j][i], seqs[j+1][i] = seqs[j+1][i], seqs[j][i]
			}
		}
	}

	return out
}
