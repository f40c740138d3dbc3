package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryForExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want FileCategory
	}{
		{"md", CategoryDocument},
		{"txt", CategoryDocument},
		{"go", CategoryCode},
		{"json", CategoryCode},
		{"png", CategoryImage},
		{"pdf", CategoryPDF},
		{"zip", CategoryArchive},
		{"mp3", CategoryAudio},
		{"mp4", CategoryVideo},
		{"xyz", CategoryOther},
		{"", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CategoryForExtension(tt.ext), tt.ext)
	}
}

func TestNormalizeExtension(t *testing.T) {
	assert.Equal(t, "md", NormalizeExtension(".MD"))
	assert.Equal(t, "go", NormalizeExtension("go"))
	assert.Equal(t, "", NormalizeExtension("."))
}

func TestValidCategory(t *testing.T) {
	assert.True(t, ValidCategory("document"))
	assert.True(t, ValidCategory("other"))
	assert.False(t, ValidCategory("spreadsheet"))
	assert.False(t, ValidCategory(""))
}

func TestDocKeyRoundtrip(t *testing.T) {
	key := DocKey(42, "notes/a:b.md")
	assert.Equal(t, "42:notes/a:b.md", key)

	id, rel, err := SplitDocKey(key)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Equal(t, "notes/a:b.md", rel, "only the first colon separates")

	_, _, err = SplitDocKey("no-colon")
	assert.Error(t, err)
	_, _, err = SplitDocKey(":leading")
	assert.Error(t, err)
	_, _, err = SplitDocKey("abc:path")
	assert.Error(t, err)
}

func TestSpaceVisibleTo(t *testing.T) {
	sp := &Space{OwnerID: "alice", Visibility: VisibilityPrivate}
	assert.True(t, sp.VisibleTo("alice"))
	assert.False(t, sp.VisibleTo("bob"))

	sp.Visibility = VisibilityPublic
	assert.True(t, sp.VisibleTo("bob"))

	sp.Visibility = VisibilityTeam
	assert.True(t, sp.VisibleTo("bob"))
}

func TestValidVisibilityAndViewMode(t *testing.T) {
	assert.True(t, ValidVisibility(VisibilityPublic))
	assert.False(t, ValidVisibility(Visibility("everyone")))

	assert.True(t, ValidViewMode(ViewModeGrid))
	assert.True(t, ValidViewMode(ViewModeDetails))
	assert.True(t, ValidViewMode(ViewModeCards))
	assert.False(t, ValidViewMode(ViewMode("mosaic")))
}
