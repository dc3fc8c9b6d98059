// Package ingest loads external material into core-ready types: health
// documents as knowledge chunks and user log exports as log entries.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/brunobiangulo/healthcoach/knowledge"
)

// DefaultChunkSize is the character budget per chunk.
const DefaultChunkSize = 512

// ErrUnsupportedFormat is returned for file extensions no loader handles.
var ErrUnsupportedFormat = errors.New("ingest: unsupported document format")

// LoadDocument reads a document file and splits it into chunks. The
// file's path is the chunk source, its base name the title. Supported:
// .txt, .md, .pdf.
func LoadDocument(path string) ([]knowledge.Chunk, error) {
	var text string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		text, err = readPlainText(path)
	case ".pdf":
		text, err = readPDFText(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	var chunks []knowledge.Chunk
	for i, piece := range SplitText(text, DefaultChunkSize) {
		chunks = append(chunks, knowledge.Chunk{
			Source:   path,
			Title:    title,
			Position: i,
			Content:  piece,
		})
	}
	return chunks, nil
}

// LoadDir loads every supported document directly inside dir, skipping
// unsupported extensions.
func LoadDir(dir string) ([]knowledge.Chunk, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var chunks []knowledge.Chunk
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		c, err := LoadDocument(filepath.Join(dir, e.Name()))
		if errors.Is(err, ErrUnsupportedFormat) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", e.Name(), err)
		}
		chunks = append(chunks, c...)
	}
	return chunks, nil
}

func readPlainText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

func readPDFText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

// SplitText splits text into pieces of at most maxChars, preferring
// sentence boundaries and falling back to word boundaries. A sentence
// longer than the budget is hard-split rather than dropped.
func SplitText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars < 1 {
		maxChars = DefaultChunkSize
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var pieces []string
	var cur strings.Builder
	for _, sentence := range splitSentences(text) {
		if cur.Len() > 0 && cur.Len()+1+len(sentence) > maxChars {
			pieces = append(pieces, cur.String())
			cur.Reset()
		}
		if len(sentence) > maxChars {
			for _, part := range splitWords(sentence, maxChars) {
				pieces = append(pieces, part)
			}
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sentence)
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

// splitSentences breaks text on sentence-ending punctuation followed by
// whitespace. Newlines also terminate a sentence.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		end := false
		switch r {
		case '.', '!', '?':
			end = i+1 == len(runes) || unicode.IsSpace(runes[i+1])
		case '\n':
			end = true
		}
		if end {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func splitWords(text string, maxChars int) []string {
	var out []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+1+len(word) > maxChars {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
