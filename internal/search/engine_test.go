package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaglenote/wikidex/internal/errors"
	"github.com/beaglenote/wikidex/internal/index"
	"github.com/beaglenote/wikidex/internal/types"
)

// stubLister exposes a fixed space list to every user except where the
// visibility rule says otherwise.
type stubLister struct {
	spaces []*types.Space
}

func (s *stubLister) List(userID string) []*types.Space {
	var out []*types.Space
	for _, sp := range s.spaces {
		if sp.VisibleTo(userID) {
			out = append(out, sp)
		}
	}
	return out
}

func testEngine(t *testing.T) (*Engine, *index.Index) {
	t.Helper()
	ix := index.New()
	lister := &stubLister{spaces: []*types.Space{
		{ID: 1, Name: "docs", Visibility: types.VisibilityPublic, OwnerID: "alice"},
		{ID: 2, Name: "secret", Visibility: types.VisibilityPrivate, OwnerID: "alice"},
	}}
	return New(ix, lister), ix
}

func doc(key, spaceName, title, body string, spaceID int64, modified time.Time, tags ...string) *types.IndexedDocument {
	return &types.IndexedDocument{
		Key:        key,
		SpaceID:    spaceID,
		SpaceName:  spaceName,
		Title:      title,
		Path:       "notes/entry.md",
		Tags:       tags,
		Body:       body,
		Category:   types.CategoryDocument,
		Viewer:     types.ViewerMarkdown,
		ModifiedAt: modified,
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	e, _ := testEngine(t)

	results, err := e.Search(context.Background(), Options{Query: "", UserID: "bob"})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)

	// stop words only tokenize to nothing
	results, err = e.Search(context.Background(), Options{Query: "the and of", UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchScoringAndOrder(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()

	// "deploy" in title (3.0) and body (1.0) vs body only (1.0)
	ix.Upsert(doc("1:a.md", "docs", "Deploy Guide", "how to deploy safely", 1, now))
	ix.Upsert(doc("1:b.md", "docs", "Runbook", "deploy steps live here", 1, now))

	results, err := e.Search(context.Background(), Options{Query: "deploy", UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "1:a.md", results[0].Key)
	assert.InDelta(t, 4.0, results[0].Relevance, 1e-9)
	assert.InDelta(t, 1.0, results[1].Relevance, 1e-9)
	assert.Greater(t, results[0].Relevance, results[1].Relevance)
}

func TestSearchMultiTokenUnionAveragesPerToken(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()

	ix.Upsert(doc("1:a.md", "docs", "Kafka", "kafka broker notes", 1, now))
	ix.Upsert(doc("1:b.md", "docs", "Redis", "redis cache notes", 1, now))

	// OR semantics: both docs match even though each holds one term
	results, err := e.Search(context.Background(), Options{Query: "kafka redis", UserID: "bob"})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	// per-token division halves single-term scores
	single, err := e.Search(context.Background(), Options{Query: "kafka", UserID: "bob"})
	require.NoError(t, err)
	require.NotEmpty(t, single)
	assert.InDelta(t, single[0].Relevance/2, results[0].Relevance, 1e-9)
}

func TestSearchTiebreakers(t *testing.T) {
	e, ix := testEngine(t)
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(24 * time.Hour)

	ix.Upsert(doc("1:old.md", "docs", "Widget", "same body", 1, older))
	ix.Upsert(doc("1:new.md", "docs", "Widget", "same body", 1, newer))

	results, err := e.Search(context.Background(), Options{Query: "widget", UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1:new.md", results[0].Key, "newer document wins the tie")
}

func TestSearchVisibilityFilter(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()

	ix.Upsert(doc("1:pub.md", "docs", "Shared Plan", "plan body", 1, now))
	ix.Upsert(doc("2:priv.md", "secret", "Hidden Plan", "plan body", 2, now))

	results, err := e.Search(context.Background(), Options{Query: "plan", UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1:pub.md", results[0].Key)

	// the owner sees both
	results, err = e.Search(context.Background(), Options{Query: "plan", UserID: "alice"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchFilters(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()

	codeDoc := doc("1:main.go", "docs", "main", "package main server", 1, now)
	codeDoc.Category = types.CategoryCode
	ix.Upsert(codeDoc)
	ix.Upsert(doc("1:srv.md", "docs", "Server Notes", "server design", 1, now))

	results, err := e.Search(context.Background(), Options{
		Query: "server", UserID: "bob", FileTypes: []string{"code"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.CategoryCode, results[0].Category)

	results, err = e.Search(context.Background(), Options{
		Query: "server", UserID: "bob", SpaceNames: []string{"Docs"},
	})
	require.NoError(t, err)
	assert.Len(t, results, 2, "space name filter is case-insensitive")

	results, err = e.Search(context.Background(), Options{
		Query: "server", UserID: "bob", SpaceNames: []string{"other"},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchUnknownFileTypeFails(t *testing.T) {
	e, _ := testEngine(t)

	_, err := e.Search(context.Background(), Options{
		Query: "anything", UserID: "bob", FileTypes: []string{"spreadsheet"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindValidationFailed))
}

func TestSearchFallbackSubstring(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()

	// "kuber" is not a full token anywhere, so postings miss it; the
	// fallback substring scan over titles must catch it.
	ix.Upsert(doc("1:k8s.md", "docs", "Kubernetes Cheatsheet", "cluster admin notes", 1, now))

	results, err := e.Search(context.Background(), Options{Query: "kuber", UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1:k8s.md", results[0].Key)
	assert.Equal(t, 0.5, results[0].Relevance)
}

func TestSearchMaxResults(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()

	for i := 0; i < 30; i++ {
		key := types.DocKey(1, fmt.Sprintf("doc-%02d.md", i))
		ix.Upsert(doc(key, "docs", "Common Topic", "common body", 1, now))
	}

	results, err := e.Search(context.Background(), Options{Query: "common", UserID: "bob"})
	require.NoError(t, err)
	assert.Len(t, results, DefaultMaxResults)

	results, err = e.Search(context.Background(), Options{Query: "common", UserID: "bob", MaxResults: 5})
	require.NoError(t, err)
	assert.Len(t, results, 5)
}

func TestSearchIncludeContent(t *testing.T) {
	e, ix := testEngine(t)
	now := time.Now()
	ix.Upsert(doc("1:a.md", "docs", "Guide", "full body text", 1, now))

	results, err := e.Search(context.Background(), Options{Query: "guide", UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Content)

	results, err = e.Search(context.Background(), Options{Query: "guide", UserID: "bob", IncludeContent: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "full body text", results[0].Content)
}

func TestSearchCancellation(t *testing.T) {
	e, ix := testEngine(t)
	ix.Upsert(doc("1:a.md", "docs", "Guide", "body", 1, time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Search(ctx, Options{Query: "guide body", UserID: "bob"})
	assert.Error(t, err)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "", Excerpt(""))
	assert.Equal(t, "Heading body text", Excerpt("# Heading\n\n*body* `text`"))

	long := ""
	for i := 0; i < 100; i++ {
		long += "abcdefghi "
	}
	got := Excerpt(long)
	assert.LessOrEqual(t, len(got), 200)
}
