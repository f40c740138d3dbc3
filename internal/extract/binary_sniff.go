// Binary content detection for files in the "other" category, which are
// indexed as text only when they decode cleanly.
package extract

import (
	"bytes"
	"path/filepath"
	"strings"
)

// BinarySniffer detects binary payloads by extension and magic number so the
// extractor never feeds raw bytes into the index.
type BinarySniffer struct {
	binaryExtensions map[string]bool
}

// NewBinarySniffer builds the extension table for formats the category map
// does not already classify.
func NewBinarySniffer() *BinarySniffer {
	extensions := map[string]bool{
		// Fonts
		".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,

		// Executables and object files
		".exe": true, ".dll": true, ".so": true, ".dylib": true,
		".a": true, ".o": true, ".obj": true, ".bin": true,

		// Office formats
		".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
		".ppt": true, ".pptx": true,

		// Databases
		".db": true, ".sqlite": true, ".sqlite3": true,

		// Bytecode and serialized blobs
		".pyc": true, ".pyo": true, ".class": true, ".pickle": true, ".pkl": true,
	}

	return &BinarySniffer{binaryExtensions: extensions}
}

// LooksBinary combines the extension table with a magic-number check over
// the first bytes of content.
func (bs *BinarySniffer) LooksBinary(path string, content []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" && bs.binaryExtensions[ext] {
		return true
	}
	return looksBinaryContent(content)
}

// looksBinaryContent is a fast heuristic over the first 512 bytes.
func looksBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	checkLen := 512
	if len(content) < checkLen {
		checkLen = len(content)
	}
	sample := content[:checkLen]

	magicPrefixes := [][]byte{
		{0x1F, 0x8B},             // gzip
		{0x50, 0x4B, 0x03, 0x04}, // ZIP
		{0x50, 0x4B, 0x05, 0x06}, // ZIP (empty)
		{0x89, 0x50, 0x4E, 0x47}, // PNG
		{0xFF, 0xD8, 0xFF},       // JPEG
		{0x47, 0x49, 0x46, 0x38}, // GIF
		{0x25, 0x50, 0x44, 0x46}, // PDF
		{0x7F, 0x45, 0x4C, 0x46}, // ELF
		{0x4D, 0x5A},             // DOS/Windows executable
		{0xCA, 0xFE, 0xBA, 0xBE}, // Mach-O
		{0x77, 0x4F, 0x46, 0x46}, // WOFF
		{0x77, 0x4F, 0x46, 0x32}, // WOFF2
	}
	for _, prefix := range magicPrefixes {
		if bytes.HasPrefix(sample, prefix) {
			return true
		}
	}

	// Null bytes and control characters mark binary content; high bytes are
	// left alone to avoid false positives on UTF-8 text.
	nullBytes := 0
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			nullBytes++
		}
		if b < 0x20 && b != 0x09 && b != 0x0A && b != 0x0D {
			nonPrintable++
		}
	}
	if nullBytes > len(sample)/100 {
		return true
	}
	return nonPrintable > len(sample)*30/100
}
