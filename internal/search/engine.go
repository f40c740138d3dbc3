// Package search is the query engine over the inverted index. Multi-term
// queries use OR semantics across tokens, favoring recall; a degraded
// substring scan catches queries the posting lists cannot serve.
package search

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/index"
	"github.com/beaglenote/wikidex/internal/types"
)

// DefaultMaxResults caps a search response when the caller passes none.
const DefaultMaxResults = 20

// excerptLen is the excerpt budget in runes.
const excerptLen = 200

// fallbackRelevance is the fixed score of degraded substring matches.
const fallbackRelevance = 0.5

// Options describe one search request.
type Options struct {
	Query          string
	UserID         string
	SpaceNames     []string
	FileTypes      []string
	IncludeContent bool
	MaxResults     int
}

// SpaceLister is the slice of the registry the engine needs: which spaces
// a user may see.
type SpaceLister interface {
	List(userID string) []*types.Space
}

// Engine answers search queries from the active index generation,
// restricted to spaces the requesting user can see.
type Engine struct {
	ix     *index.Index
	spaces SpaceLister
}

// New creates an engine over an index and a space registry.
func New(ix *index.Index, spaces SpaceLister) *Engine {
	return &Engine{ix: ix, spaces: spaces}
}

// Search runs one query. An empty query returns an empty (non-nil) slice.
// Unknown fileType categories fail with a validation error instead of being
// silently dropped.
func (e *Engine) Search(ctx context.Context, opts Options) ([]types.SearchResult, error) {
	const op = "search.Search"

	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}

	categories, err := parseCategories(op, opts.FileTypes)
	if err != nil {
		return nil, err
	}
	spaceFilter := parseSpaceNames(opts.SpaceNames)

	tokens := index.Tokenize(opts.Query)
	if len(tokens) == 0 {
		return []types.SearchResult{}, nil
	}

	visible := e.visibleSpaceNames(opts.UserID)

	snap := e.ix.Snapshot()
	defer snap.Release()

	admit := func(doc *types.IndexedDocument) bool {
		if _, ok := visible[doc.SpaceName]; !ok {
			return false
		}
		if spaceFilter != nil {
			if _, ok := spaceFilter[strings.ToLower(doc.SpaceName)]; !ok {
				return false
			}
		}
		if categories != nil {
			if _, ok := categories[doc.Category]; !ok {
				return false
			}
		}
		return true
	}

	// OR-union across tokens. Each posting contributes its field-weighted
	// count divided by the token count, i.e. the average per-token
	// contribution across fields.
	scores := make(map[string]float64)
	for _, tok := range tokens {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindInternal, op, ctx.Err())
		default:
		}
		list := snap.Postings(tok)
		for i := range list {
			scores[list[i].Key] += list[i].WeightedCount() / float64(len(tokens))
		}
	}

	var hits []types.SearchResult
	for key, score := range scores {
		doc, ok := snap.Doc(key)
		if !ok || !admit(doc) {
			continue
		}
		hits = append(hits, makeResult(doc, score, opts.IncludeContent))
	}

	if len(hits) == 0 {
		debug.LogSearch("no postings hit for %q, running substring fallback", opts.Query)
		hits = fallbackScan(snap, tokens, admit, opts.IncludeContent)
	}

	sortResults(hits)
	if len(hits) > opts.MaxResults {
		hits = hits[:opts.MaxResults]
	}
	if hits == nil {
		hits = []types.SearchResult{}
	}
	return hits, nil
}

// fallbackScan is the degraded O(N) path: substring-match any query token
// against title, excerpt and tags. Matches carry a fixed relevance.
func fallbackScan(snap *index.Snapshot, tokens []string, admit func(*types.IndexedDocument) bool, includeContent bool) []types.SearchResult {
	var hits []types.SearchResult
	snap.EachDoc(func(doc *types.IndexedDocument) bool {
		if !admit(doc) {
			return true
		}
		if !substringMatch(doc, tokens) {
			return true
		}
		hits = append(hits, makeResult(doc, fallbackRelevance, includeContent))
		return true
	})
	return hits
}

func substringMatch(doc *types.IndexedDocument, tokens []string) bool {
	title := strings.ToLower(doc.Title)
	excerpt := strings.ToLower(Excerpt(doc.Body))
	for _, tok := range tokens {
		if strings.Contains(title, tok) || strings.Contains(excerpt, tok) {
			return true
		}
		for _, tag := range doc.Tags {
			if strings.Contains(strings.ToLower(tag), tok) {
				return true
			}
		}
	}
	return false
}

func makeResult(doc *types.IndexedDocument, score float64, includeContent bool) types.SearchResult {
	res := types.SearchResult{
		Key:        doc.Key,
		Title:      doc.Title,
		Excerpt:    Excerpt(doc.Body),
		Path:       doc.Path,
		SpaceName:  doc.SpaceName,
		ModifiedAt: doc.ModifiedAt,
		Tags:       doc.Tags,
		Category:   doc.Category,
		Size:       doc.Size,
		Relevance:  score,
	}
	if includeContent {
		res.Content = doc.Body
	}
	return res
}

// sortResults orders by relevance descending, then newer modifiedAt, then
// docKey ascending so equal-score output is stable across runs.
func sortResults(hits []types.SearchResult) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Relevance != hits[j].Relevance {
			return hits[i].Relevance > hits[j].Relevance
		}
		if !hits[i].ModifiedAt.Equal(hits[j].ModifiedAt) {
			return hits[i].ModifiedAt.After(hits[j].ModifiedAt)
		}
		return hits[i].Key < hits[j].Key
	})
}

// visibleSpaceNames returns the names of spaces the user may search.
func (e *Engine) visibleSpaceNames(userID string) map[string]struct{} {
	spaces := e.spaces.List(userID)
	out := make(map[string]struct{}, len(spaces))
	for _, sp := range spaces {
		out[sp.Name] = struct{}{}
	}
	return out
}

func parseCategories(op string, fileTypes []string) (map[types.FileCategory]struct{}, error) {
	if len(fileTypes) == 0 {
		return nil, nil
	}
	out := make(map[types.FileCategory]struct{}, len(fileTypes))
	for _, ft := range fileTypes {
		ft = strings.ToLower(strings.TrimSpace(ft))
		if ft == "" {
			continue
		}
		if !types.ValidCategory(ft) {
			return nil, errors.Validation(op, "unknown fileType %q", ft)
		}
		out[types.FileCategory(ft)] = struct{}{}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func parseSpaceNames(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out[n] = struct{}{}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Excerpt returns the first 200 runes of body with markdown punctuation
// stripped and whitespace collapsed.
func Excerpt(body string) string {
	if body == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(excerptLen)
	count := 0
	lastSpace := true
	for _, r := range body {
		switch r {
		case '#', '*', '_', '`', '>', '[', ']', '(', ')', '!', '|', '~':
			continue
		}
		if unicode.IsSpace(r) {
			if lastSpace {
				continue
			}
			r = ' '
			lastSpace = true
		} else {
			lastSpace = false
		}
		b.WriteRune(r)
		count++
		if count >= excerptLen {
			break
		}
	}
	return strings.TrimSpace(b.String())
}
