package retrieval

import "sort"

// DefaultRRFK is the standard RRF smoothing constant.
const DefaultRRFK = 60.0

// RRFFusion merges ranked lists with weighted Reciprocal Rank Fusion:
//
//	score(d) = Σ_b w_b / (k + r_b(d) + 1)
//
// where r_b(d) is d's 0-based rank in backend b's list. A document absent
// from a list gets nothing from it; there is no missing-rank penalty.
type RRFFusion struct {
	K float64

	// Normalize divides fused scores by the best achievable score (rank 0
	// in every list that has weight), mapping them into [0,1]. Off by
	// default; raw RRF values are on the order of 1/k.
	Normalize bool
}

// NewRRFFusion creates a fusion with smoothing constant k.
// A non-positive k uses DefaultRRFK.
func NewRRFFusion(k float64) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFK
	}
	return &RRFFusion{K: k}
}

// Fuse combines vector and lexical rankings.
//
// Output is sorted by descending fused score with a stable sort over
// first-appearance order: vector hits in vector order, then lexical-only
// hits in lexical order. Equal scores keep that order; no secondary key
// is applied. Content comes from the first list a document appeared in;
// VectorScore and FulltextScore carry the raw backend scores.
func (f *RRFFusion) Fuse(vector, lexical []SearchResult, vectorWeight, lexicalWeight float64) []SearchResult {
	if len(vector) == 0 && len(lexical) == 0 {
		return []SearchResult{}
	}

	order := make([]string, 0, len(vector)+len(lexical))
	fused := make(map[string]*SearchResult, len(vector)+len(lexical))

	getOrCreate := func(r SearchResult) *SearchResult {
		if existing, ok := fused[r.ID]; ok {
			return existing
		}
		fr := &SearchResult{ID: r.ID, Content: r.Content}
		fused[r.ID] = fr
		order = append(order, r.ID)
		return fr
	}

	for rank, r := range vector {
		fr := getOrCreate(r)
		if fr.VectorScore != nil {
			// Duplicate within one list: only the best rank counts.
			continue
		}
		score := r.Score
		fr.VectorScore = &score
		fr.Score += vectorWeight / (f.K + float64(rank) + 1)
	}

	for rank, r := range lexical {
		fr := getOrCreate(r)
		if fr.FulltextScore != nil {
			continue
		}
		score := r.Score
		fr.FulltextScore = &score
		fr.Score += lexicalWeight / (f.K + float64(rank) + 1)
	}

	results := make([]SearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, *fused[id])
	}

	if f.Normalize {
		f.normalize(results, len(vector) > 0, len(lexical) > 0, vectorWeight, lexicalWeight)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func (f *RRFFusion) normalize(results []SearchResult, hasVector, hasLexical bool, vw, lw float64) {
	var best float64
	if hasVector {
		best += vw / (f.K + 1)
	}
	if hasLexical {
		best += lw / (f.K + 1)
	}
	if best <= 0 {
		return
	}
	for i := range results {
		results[i].Score /= best
	}
}
