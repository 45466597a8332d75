// Registries for genes and solver runs. All cross-combination statistics
// accumulate here; the orchestrator is the only writer.

package registry

import (
	"encoding/json"
	"sort"
)

// GeneRecord tracks one gene across all species combinations.
//
// BestRank and HighestGSS are per-combination transients: set from the
// solver's ranked output and reset by FinishCombo. A BestRank of 0 means
// the gene was not ranked this combination (ranks are 1-based).
type GeneRecord struct {
	Gene               string      `json:"gene"`
	BestRank           int         `json:"best_rank"`
	HighestGSS         float64     `json:"highest_gss"`
	BestEverRank       int         `json:"best_ever_rank"`
	HighestEverGSS     float64     `json:"highest_ever_gss"`
	NumCombosRanked    int         `json:"num_combos_ranked"`
	NumCombosRankedTop int         `json:"num_combos_ranked_top"`
	SelectedSites      map[int]int `json:"selected_sites"`
}

// NewGeneRecord materializes the selected-sites map eagerly so the record
// serializes without special cases.
func NewGeneRecord(gene string) *GeneRecord {
	return &GeneRecord{
		Gene:          gene,
		SelectedSites: make(map[int]int),
	}
}

// GeneRegistry owns every GeneRecord for the pipeline's lifetime. The key
// order is the insertion order of the gene name list it was built from, so
// iteration and output stay deterministic.
type GeneRegistry struct {
	order   []string
	records map[string]*GeneRecord
}

// NewGeneRegistry builds a registry with one empty record per gene name.
func NewGeneRegistry(genes []string) *GeneRegistry {
	reg := &GeneRegistry{
		records: make(map[string]*GeneRecord, len(genes)),
	}
	for _, g := range genes {
		reg.add(NewGeneRecord(g))
	}
	return reg
}

func (r *GeneRegistry) add(rec *GeneRecord) {
	if _, ok := r.records[rec.Gene]; !ok {
		r.order = append(r.order, rec.Gene)
	}
	r.records[rec.Gene] = rec
}

// Get returns the record for a gene, or nil if unknown.
func (r *GeneRegistry) Get(gene string) *GeneRecord {
	return r.records[gene]
}

// Len returns the number of genes tracked.
func (r *GeneRegistry) Len() int {
	return len(r.order)
}

// Genes returns the gene names in registry order.
func (r *GeneRegistry) Genes() []string {
	return append([]string(nil), r.order...)
}

// Records returns every record in registry order.
func (r *GeneRegistry) Records() []*GeneRecord {
	out := make([]*GeneRecord, 0, len(r.order))
	for _, g := range r.order {
		out = append(out, r.records[g])
	}
	return out
}

// TopRankThreshold is the rank at or below which a gene counts as a "top
// gene" for one combination: max(1, geneCount*frac), float compared.
func (r *GeneRegistry) TopRankThreshold(frac float64) float64 {
	threshold := float64(r.Len()) * frac
	if threshold < 1 {
		return 1
	}
	return threshold
}

// FinishCombo folds the per-combination transients of every gene into the
// lifetime statistics and resets them for the next combination. A gene
// with no rank this combination is left untouched.
func (r *GeneRegistry) FinishCombo(topRankThreshold float64) {
	for _, g := range r.order {
		gene := r.records[g]
		if gene.BestRank == 0 {
			continue // never ranked, so it has no GSS either
		}
		gene.NumCombosRanked++
		if float64(gene.BestRank) <= topRankThreshold {
			gene.NumCombosRankedTop++
		}
		if gene.BestEverRank == 0 || gene.BestRank < gene.BestEverRank {
			gene.BestEverRank = gene.BestRank
		}
		if gene.HighestGSS > gene.HighestEverGSS {
			gene.HighestEverGSS = gene.HighestGSS
		}
		gene.BestRank = 0
		gene.HighestGSS = 0
	}
}

// MarshalJSON serializes the registry as an ordered record list.
func (r *GeneRegistry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Records())
}

// UnmarshalJSON restores a registry from an ordered record list, rebuilding
// any selected-sites maps the encoder dropped as null.
func (r *GeneRegistry) UnmarshalJSON(data []byte) error {
	var records []*GeneRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	r.order = nil
	r.records = make(map[string]*GeneRecord, len(records))
	for _, rec := range records {
		if rec.SelectedSites == nil {
			rec.SelectedSites = make(map[int]int)
		}
		r.add(rec)
	}
	return nil
}

// RankedBest returns all records ordered for the gene-ranks report:
// most combos ranked top first, then best lifetime rank, then gene name.
func (r *GeneRegistry) RankedBest() []*GeneRecord {
	out := r.Records()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.NumCombosRankedTop != b.NumCombosRankedTop {
			return a.NumCombosRankedTop > b.NumCombosRankedTop
		}
		ar, br := a.BestEverRank, b.BestEverRank
		if ar == 0 {
			ar = int(^uint(0) >> 1)
		}
		if br == 0 {
			br = int(^uint(0) >> 1)
		}
		if ar != br {
			return ar < br
		}
		return a.Gene < b.Gene
	})
	return out
}
