// Package suggest provides autocomplete over document titles and path
// segments via a character n-gram index. Query n-grams are intersected to
// find candidate source strings; prefix matches rank first, then shorter
// strings, then lexicographic order. Every suggestion contains the query as
// a substring; near-miss corrections are a separate lookup.
package suggest

import (
	"sort"
	"strings"
	"sync"

	"github.com/hbollon/go-edlib"
)

// DefaultLimit caps a suggestion response when the caller passes none.
const DefaultLimit = 10

// fuzzyThreshold is the minimum Jaro-Winkler similarity for the fallback.
const fuzzyThreshold = 0.82

// generation is one immutable-from-readers n-gram snapshot.
type generation struct {
	minN, maxN int
	grams      map[string]map[string]struct{} // n-gram -> source strings
	sources    map[string]int                 // lowercased source -> refcount
	display    map[string]string              // lowercased source -> original casing
}

func newGeneration(minN, maxN int) *generation {
	return &generation{
		minN:    minN,
		maxN:    maxN,
		grams:   make(map[string]map[string]struct{}),
		sources: make(map[string]int),
		display: make(map[string]string),
	}
}

func (g *generation) add(source string) {
	source = strings.TrimSpace(source)
	if source == "" {
		return
	}
	lower := strings.ToLower(source)
	g.sources[lower]++
	if _, ok := g.display[lower]; !ok {
		g.display[lower] = source
	}
	if g.sources[lower] > 1 {
		return // grams already present
	}
	for _, gram := range ngrams(lower, g.minN, g.maxN) {
		set, ok := g.grams[gram]
		if !ok {
			set = make(map[string]struct{})
			g.grams[gram] = set
		}
		set[lower] = struct{}{}
	}
}

// Suggester is the process-wide suggestion index with the same
// reader/writer discipline as the inverted index.
type Suggester struct {
	mu         sync.RWMutex
	gen        *generation
	minN, maxN int
}

// New creates an empty suggester for n-gram lengths [minN, maxN].
func New(minN, maxN int) *Suggester {
	if minN < 2 {
		minN = 2
	}
	if maxN < minN {
		maxN = minN
	}
	return &Suggester{gen: newGeneration(minN, maxN), minN: minN, maxN: maxN}
}

// Add ingests one source string (a title or path segment) incrementally.
func (s *Suggester) Add(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.add(source)
}

// AddDocument ingests a title and every segment of a path.
func (s *Suggester) AddDocument(title, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.add(title)
	for _, segment := range strings.Split(path, "/") {
		s.gen.add(strings.TrimSuffix(segment, extSuffix(segment)))
	}
}

// Builder stages a replacement generation during rebuild.
type Builder struct {
	gen *generation
}

// NewBuilder starts a fresh generation with the suggester's n-gram range.
func (s *Suggester) NewBuilder() *Builder {
	return &Builder{gen: newGeneration(s.minN, s.maxN)}
}

// AddDocument stages a title and its path segments.
func (b *Builder) AddDocument(title, path string) {
	b.gen.add(title)
	for _, segment := range strings.Split(path, "/") {
		b.gen.add(strings.TrimSuffix(segment, extSuffix(segment)))
	}
}

// Swap installs the staged generation.
func (s *Suggester) Swap(b *Builder) {
	s.mu.Lock()
	s.gen = b.gen
	s.mu.Unlock()
}

// Suggest returns up to limit source strings matching the prefix. Prefixes
// shorter than the minimum n-gram length yield nothing.
func (s *Suggester) Suggest(prefix string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	lower := strings.ToLower(strings.TrimSpace(prefix))
	if len(lower) < s.minN {
		return nil
	}

	s.mu.RLock()
	gen := s.gen
	defer s.mu.RUnlock()

	candidates := gen.intersect(lower)
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		pi := strings.HasPrefix(candidates[i], lower)
		pj := strings.HasPrefix(candidates[j], lower)
		if pi != pj {
			return pi
		}
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) < len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = gen.display[c]
	}
	return out
}

// intersect collects sources containing every n-gram of the query, keeping
// only those that contain the whole query as a substring.
func (g *generation) intersect(lower string) []string {
	grams := ngrams(lower, g.minN, g.maxN)
	if len(grams) == 0 {
		return nil
	}

	var current map[string]struct{}
	for i, gram := range grams {
		set, ok := g.grams[gram]
		if !ok {
			return nil
		}
		if i == 0 {
			current = make(map[string]struct{}, len(set))
			for src := range set {
				current[src] = struct{}{}
			}
			continue
		}
		for src := range current {
			if _, ok := set[src]; !ok {
				delete(current, src)
			}
		}
		if len(current) == 0 {
			return nil
		}
	}

	out := make([]string, 0, len(current))
	for src := range current {
		// n-gram co-occurrence is necessary but not sufficient.
		if strings.Contains(src, lower) {
			out = append(out, src)
		}
	}
	return out
}

// Corrections returns up to limit source strings whose prefix is a near
// miss of term, best match first. O(N) over sources; intended for the
// zero-result path only ("did you mean" hints), never for autocomplete.
func (s *Suggester) Corrections(term string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	lower := strings.ToLower(strings.TrimSpace(term))
	if len(lower) < s.minN {
		return nil
	}

	s.mu.RLock()
	gen := s.gen
	defer s.mu.RUnlock()

	type scored struct {
		src   string
		score float32
	}
	var hits []scored
	for src := range gen.sources {
		probe := src
		if len(probe) > len(lower) {
			probe = probe[:len(lower)]
		}
		score, err := edlib.StringsSimilarity(lower, probe, edlib.JaroWinkler)
		if err != nil {
			continue
		}
		if score >= fuzzyThreshold {
			hits = append(hits, scored{src: src, score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].src < hits[j].src
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = gen.display[h.src]
	}
	return out
}

// ngrams emits all contiguous character n-grams of lengths [minN, maxN].
func ngrams(s string, minN, maxN int) []string {
	runes := []rune(s)
	var out []string
	for n := minN; n <= maxN; n++ {
		if len(runes) < n {
			break
		}
		for i := 0; i+n <= len(runes); i++ {
			out = append(out, string(runes[i:i+n]))
		}
	}
	return out
}

func extSuffix(segment string) string {
	if idx := strings.LastIndexByte(segment, '.'); idx > 0 {
		return segment[idx:]
	}
	return ""
}
