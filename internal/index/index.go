// Package index implements the in-memory inverted index over titles, paths,
// tags and bodies. Tokens map to posting lists; a docKey -> tokens reverse
// map makes removal cheap. Rebuilds materialize a fresh generation off to
// the side and swap it in with a single pointer update, so concurrent
// readers always observe one consistent generation.
package index

import (
	"sync"
	"time"

	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/types"
)

// Field identifies where in a document a token occurred.
type Field uint8

const (
	FieldTitle Field = iota
	FieldTag
	FieldPath
	FieldBody
	fieldCount
)

// FieldMask is the per-posting occurrence bitmask.
type FieldMask uint8

const (
	MaskTitle FieldMask = 1 << FieldTitle
	MaskTag   FieldMask = 1 << FieldTag
	MaskPath  FieldMask = 1 << FieldPath
	MaskBody  FieldMask = 1 << FieldBody
)

// Field weights used by the query engine's relevance formula.
var fieldWeights = [fieldCount]float64{
	FieldTitle: 3.0,
	FieldTag:   2.0,
	FieldPath:  2.0,
	FieldBody:  1.0,
}

// Weight returns the scoring weight of a field.
func Weight(f Field) float64 { return fieldWeights[f] }

// Posting records one (token, document) pair with per-field counts.
type Posting struct {
	Key    string
	Mask   FieldMask
	Counts [fieldCount]uint32
}

// WeightedCount is the field-weighted occurrence sum for this posting.
func (p *Posting) WeightedCount() float64 {
	var sum float64
	for f := Field(0); f < fieldCount; f++ {
		if p.Counts[f] > 0 {
			sum += fieldWeights[f] * float64(p.Counts[f])
		}
	}
	return sum
}

// generation is one immutable-from-readers index snapshot. Mutation happens
// only under the Index write lock; rebuilds replace the whole generation.
type generation struct {
	postings  map[string][]Posting
	docTokens map[string][]string // docKey -> tokens present, for removal
	docs      map[string]*types.IndexedDocument
	bySpace   map[int64]map[string]struct{}

	lastBuildAt   time.Time
	buildDuration time.Duration
}

func newGeneration() *generation {
	return &generation{
		postings:  make(map[string][]Posting),
		docTokens: make(map[string][]string),
		docs:      make(map[string]*types.IndexedDocument),
		bySpace:   make(map[int64]map[string]struct{}),
	}
}

// insert assumes no postings exist for doc.Key.
func (g *generation) insert(doc *types.IndexedDocument) {
	fields := [fieldCount]map[string]int{
		FieldTitle: TokenCounts(doc.Title),
		FieldPath:  TokenCounts(doc.Path),
		FieldBody:  TokenCounts(doc.Body),
	}
	tagCounts := make(map[string]int)
	for _, tag := range doc.Tags {
		for tok, n := range TokenCounts(tag) {
			tagCounts[tok] += n
		}
	}
	fields[FieldTag] = tagCounts

	merged := make(map[string]*Posting)
	for f := Field(0); f < fieldCount; f++ {
		for tok, n := range fields[f] {
			p, ok := merged[tok]
			if !ok {
				p = &Posting{Key: doc.Key}
				merged[tok] = p
			}
			p.Mask |= 1 << f
			p.Counts[f] += uint32(n)
		}
	}

	tokens := make([]string, 0, len(merged))
	for tok, p := range merged {
		g.postings[tok] = append(g.postings[tok], *p)
		tokens = append(tokens, tok)
	}
	g.docTokens[doc.Key] = tokens
	g.docs[doc.Key] = doc

	keys, ok := g.bySpace[doc.SpaceID]
	if !ok {
		keys = make(map[string]struct{})
		g.bySpace[doc.SpaceID] = keys
	}
	keys[doc.Key] = struct{}{}
}

// remove walks the reverse map and drops every posting for key.
func (g *generation) remove(key string) bool {
	tokens, ok := g.docTokens[key]
	if !ok {
		return false
	}
	for _, tok := range tokens {
		list := g.postings[tok]
		filtered := list[:0]
		for _, p := range list {
			if p.Key != key {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) == 0 {
			delete(g.postings, tok)
		} else {
			g.postings[tok] = filtered
		}
	}
	delete(g.docTokens, key)

	if doc, ok := g.docs[key]; ok {
		if keys, ok := g.bySpace[doc.SpaceID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(g.bySpace, doc.SpaceID)
			}
		}
		delete(g.docs, key)
	}
	return true
}

// Index is the process-wide searchable state. Many concurrent readers hold
// the read lock for the duration of one query; writers are serialized among
// themselves.
type Index struct {
	mu  sync.RWMutex
	gen *generation
}

// New creates an empty index.
func New() *Index {
	return &Index{gen: newGeneration()}
}

// Upsert inserts or replaces a document. Prior postings for the same key
// are removed first, so a query after return sees exactly one entry per
// token for this key.
func (ix *Index) Upsert(doc *types.IndexedDocument) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.gen.remove(doc.Key)
	ix.gen.insert(doc)
}

// Remove drops a document and all its postings. Unknown keys are a no-op.
func (ix *Index) Remove(key string) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.gen.remove(key)
}

// RemoveSpace evicts every document of a deleted space.
func (ix *Index) RemoveSpace(spaceID int64) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	keys, ok := ix.gen.bySpace[spaceID]
	if !ok {
		return 0
	}
	removed := 0
	for key := range keys {
		if ix.gen.remove(key) {
			removed++
		}
	}
	debug.LogIndex("evicted %d documents for space %d", removed, spaceID)
	return removed
}

// Builder accumulates a new generation off to the side during a rebuild.
// It is not safe for concurrent use; the rebuild pipeline funnels documents
// through a single ingesting goroutine.
type Builder struct {
	gen   *generation
	start time.Time
}

// NewBuilder starts a rebuild generation.
func NewBuilder() *Builder {
	return &Builder{gen: newGeneration(), start: time.Now()}
}

// Add ingests one document into the pending generation.
func (b *Builder) Add(doc *types.IndexedDocument) {
	b.gen.remove(doc.Key) // last write wins if the walker emits a key twice
	b.gen.insert(doc)
}

// Len returns the number of documents staged so far.
func (b *Builder) Len() int { return len(b.gen.docs) }

// Swap installs the built generation as the active one. This is the
// linearization point for every document the rebuild contained.
func (ix *Index) Swap(b *Builder) {
	b.gen.lastBuildAt = time.Now()
	b.gen.buildDuration = time.Since(b.start)

	ix.mu.Lock()
	ix.gen = b.gen
	ix.mu.Unlock()

	debug.LogIndex("generation swap: %d documents, %d tokens, built in %v",
		len(b.gen.docs), len(b.gen.postings), b.gen.buildDuration)
}

// Snapshot pins the current generation for one query. Callers must invoke
// Release when finished; holding a snapshot blocks generation mutation but
// never blocks other readers.
type Snapshot struct {
	ix  *Index
	gen *generation
}

// Snapshot acquires a consistent view of the active generation.
func (ix *Index) Snapshot() *Snapshot {
	ix.mu.RLock()
	return &Snapshot{ix: ix, gen: ix.gen}
}

// Release unpins the snapshot.
func (s *Snapshot) Release() {
	s.ix.mu.RUnlock()
}

// Postings returns the posting list for a token. The returned slice is
// owned by the generation; callers must not mutate it.
func (s *Snapshot) Postings(token string) []Posting {
	return s.gen.postings[token]
}

// Doc returns the stored document metadata for a key.
func (s *Snapshot) Doc(key string) (*types.IndexedDocument, bool) {
	doc, ok := s.gen.docs[key]
	return doc, ok
}

// EachDoc iterates all documents; used by the degraded substring fallback.
// Iteration stops when fn returns false.
func (s *Snapshot) EachDoc(fn func(*types.IndexedDocument) bool) {
	for _, doc := range s.gen.docs {
		if !fn(doc) {
			return
		}
	}
}

// SpaceKeys returns the doc keys currently indexed for a space.
func (s *Snapshot) SpaceKeys(spaceID int64) []string {
	keys := make([]string, 0, len(s.gen.bySpace[spaceID]))
	for key := range s.gen.bySpace[spaceID] {
		keys = append(keys, key)
	}
	return keys
}

// Stats summarizes the pinned generation.
func (s *Snapshot) Stats() types.IndexStats {
	return types.IndexStats{
		DocumentCount: len(s.gen.docs),
		TokenCount:    len(s.gen.postings),
		SpaceCount:    len(s.gen.bySpace),
		LastBuildAt:   s.gen.lastBuildAt,
		BuildDuration: s.gen.buildDuration,
	}
}

// Documents returns a copy of all stored document metadata, used to
// maintain the durable documents mirror after a rebuild.
func (s *Snapshot) Documents() []*types.IndexedDocument {
	out := make([]*types.IndexedDocument, 0, len(s.gen.docs))
	for _, doc := range s.gen.docs {
		out = append(out, doc)
	}
	return out
}
