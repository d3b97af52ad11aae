package knowledge

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	bm25K1    = 1.2
	bm25B     = 0.75
	idfFloor  = 0.25
	minTokLen = 2
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// field is a piece of document text repeated weight times before
// indexing, so matches in heavier fields count more.
type field struct {
	text   string
	weight int
}

type document struct {
	fields []field
}

type hit struct {
	doc   int
	score float64
}

// index is an Okapi BM25 index over a fixed set of documents.
type index struct {
	tf     []map[string]int
	length []int
	avgLen float64
	idf    map[string]float64
}

func newIndex(docs []document) *index {
	idx := &index{
		tf:     make([]map[string]int, len(docs)),
		length: make([]int, len(docs)),
		idf:    make(map[string]float64),
	}

	df := make(map[string]int)
	total := 0
	for i, d := range docs {
		var toks []string
		for _, f := range d.fields {
			ft := tokenize(f.text)
			for n := 0; n < f.weight; n++ {
				toks = append(toks, ft...)
			}
		}
		idx.length[i] = len(toks)
		total += len(toks)

		tf := make(map[string]int, len(toks))
		for _, tok := range toks {
			if tf[tok] == 0 {
				df[tok]++
			}
			tf[tok]++
		}
		idx.tf[i] = tf
	}
	if len(docs) > 0 {
		idx.avgLen = float64(total) / float64(len(docs))
	}

	n := float64(len(docs))
	for term, freq := range df {
		v := math.Log(1 + (n-float64(freq)+0.5)/(float64(freq)+0.5))
		if v < 0 {
			v = idfFloor
		}
		idx.idf[term] = v
	}
	return idx
}

// search returns documents with a positive score, best first.
func (idx *index) search(query string, limit int) []hit {
	q := tokenize(query)
	if len(q) == 0 || idx.avgLen == 0 {
		return nil
	}

	var hits []hit
	for i := range idx.tf {
		if s := idx.score(i, q); s > 0 {
			hits = append(hits, hit{doc: i, score: s})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

func (idx *index) score(doc int, query []string) float64 {
	tf := idx.tf[doc]
	dl := float64(idx.length[doc])
	var s float64
	for _, tok := range query {
		f := float64(tf[tok])
		if f == 0 {
			continue
		}
		s += idx.idf[tok] * f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*dl/idx.avgLen))
	}
	return s
}

func tokenize(text string) []string {
	matches := tokenRe.FindAllString(strings.ToLower(text), -1)
	out := matches[:0]
	for _, m := range matches {
		if len(m) >= minTokLen {
			out = append(out, m)
		}
	}
	return out
}
