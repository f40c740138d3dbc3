// Package extract turns walker file records into indexable text. Text
// formats are decoded as UTF-8 up to a size cap; binary formats contribute
// metadata only and are never read.
package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/types"
)

// Extraction is the decoded content of one file.
type Extraction struct {
	Title     string
	Tags      []string
	Body      string
	Viewer    types.Viewer
	Truncated bool // body was cut at the size cap
}

// Extractor applies the per-category decode rules.
type Extractor struct {
	maxFileSize int64
	sniffer     *BinarySniffer
}

// New creates an extractor with the given text size cap in bytes.
func New(maxFileSize int64) *Extractor {
	return &Extractor{
		maxFileSize: maxFileSize,
		sniffer:     NewBinarySniffer(),
	}
}

var titlePattern = regexp.MustCompile(`^#\s+(.+)$`)

// Extract decodes one file record. Failures return a metadata-only
// extraction plus the error; the record still reaches the index.
func (e *Extractor) Extract(rec *types.FileRecord) (*Extraction, error) {
	fallback := &Extraction{
		Title:  titleFromFilename(rec.RelativePath),
		Viewer: viewerForCategory(rec.Category, rec.Extension),
	}

	switch rec.Category {
	case types.CategoryImage, types.CategoryPDF, types.CategoryArchive,
		types.CategoryAudio, types.CategoryVideo:
		// Metadata only; never read binary payloads.
		return fallback, nil

	case types.CategoryDocument:
		raw, truncated, err := e.readCapped(rec.AbsolutePath)
		if err != nil {
			return fallback, fmt.Errorf("extraction failed (%s): %w", rec.Category, err)
		}
		if rec.Extension == "md" {
			out := e.extractMarkdown(rec, string(raw))
			out.Truncated = truncated
			return out, nil
		}
		fallback.Body = string(raw)
		fallback.Viewer = types.ViewerText
		fallback.Truncated = truncated
		return fallback, nil

	case types.CategoryCode:
		raw, truncated, err := e.readCapped(rec.AbsolutePath)
		if err != nil {
			return fallback, fmt.Errorf("extraction failed (%s): %w", rec.Category, err)
		}
		fallback.Body = string(raw)
		fallback.Viewer = types.ViewerCode
		fallback.Truncated = truncated
		return fallback, nil

	default: // CategoryOther: text if it decodes cleanly, else binary
		raw, truncated, err := e.readCapped(rec.AbsolutePath)
		if err != nil {
			return fallback, fmt.Errorf("extraction failed (%s): %w", rec.Category, err)
		}
		if e.sniffer.LooksBinary(rec.RelativePath, raw) || !utf8.Valid(raw) {
			fallback.Viewer = types.ViewerBinary
			return fallback, nil
		}
		fallback.Body = string(raw)
		fallback.Viewer = types.ViewerText
		fallback.Truncated = truncated
		return fallback, nil
	}
}

// readCapped reads at most maxFileSize bytes. Oversized files are truncated
// for indexing; the document-read path outside the core serves them whole.
func (e *Extractor) readCapped(path string) (data []byte, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err = io.ReadAll(io.LimitReader(f, e.maxFileSize+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > e.maxFileSize {
		debug.LogWalk("truncating %s at %d bytes for indexing", path, e.maxFileSize)
		return data[:e.maxFileSize], true, nil
	}
	return data, false, nil
}

// extractMarkdown pulls frontmatter tags and a first-H1 title.
func (e *Extractor) extractMarkdown(rec *types.FileRecord, content string) *Extraction {
	out := &Extraction{Viewer: types.ViewerMarkdown}

	body, front := splitFrontmatter(content)
	out.Tags = tagsFromFrontmatter(front)
	out.Body = body

	out.Title = titleFromFilename(rec.RelativePath)
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := titlePattern.FindStringSubmatch(trimmed); m != nil {
			out.Title = strings.TrimSpace(m[1])
		}
		break
	}
	return out
}

// splitFrontmatter removes a leading "---" delimited block and returns
// (body, frontmatter). Files without frontmatter return the input unchanged.
func splitFrontmatter(content string) (body, front string) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		if rest, ok = strings.CutPrefix(content, "---\r\n"); !ok {
			return content, ""
		}
	}

	for _, delim := range []string{"\n---\n", "\n---\r\n"} {
		if idx := strings.Index(rest, delim); idx >= 0 {
			return strings.TrimPrefix(rest[idx+len(delim):], "\n"), rest[:idx]
		}
	}
	// Closing delimiter at end of file without trailing newline.
	if trimmed, ok := strings.CutSuffix(rest, "\n---"); ok {
		return "", trimmed
	}
	return content, ""
}

// tagsFromFrontmatter parses simple key: value pairs and splits a tags value
// on commas. Malformed frontmatter yields no tags rather than an error.
func tagsFromFrontmatter(front string) []string {
	if front == "" {
		return nil
	}

	var fields map[string]interface{}
	if err := yaml.Unmarshal([]byte(front), &fields); err != nil {
		return nil
	}

	raw, ok := fields["tags"]
	if !ok {
		return nil
	}

	var tags []string
	switch v := raw.(type) {
	case string:
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					tags = append(tags, s)
				}
			}
		}
	}
	return tags
}

func titleFromFilename(relativePath string) string {
	base := filepath.Base(relativePath)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}

func viewerForCategory(cat types.FileCategory, ext string) types.Viewer {
	switch cat {
	case types.CategoryDocument:
		if ext == "md" {
			return types.ViewerMarkdown
		}
		return types.ViewerText
	case types.CategoryCode:
		return types.ViewerCode
	case types.CategoryImage:
		return types.ViewerImage
	case types.CategoryPDF:
		return types.ViewerPDF
	case types.CategoryArchive, types.CategoryAudio, types.CategoryVideo:
		return types.ViewerBinary
	default:
		return types.ViewerText
	}
}
