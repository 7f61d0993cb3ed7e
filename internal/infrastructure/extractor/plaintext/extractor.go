package plaintext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// Opener is satisfied by localfs.Source.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Extractor reads UTF-8 text documents. An optional header of "Key: value"
// lines, ended by a blank line, fills document metadata. Form feeds mark page
// breaks.
//
//	Title: Supply contract
//	Sender: ACME Corp
//	Date: 2024-03-01
//
//	Body text...
type Extractor struct {
	source Opener
}

var _ ports.SourceExtractor = (*Extractor)(nil)

func NewExtractor(source Opener) *Extractor {
	return &Extractor{source: source}
}

func (e *Extractor) Extract(ctx context.Context, key string) (domain.SourceDocument, error) {
	reader, err := e.source.Open(ctx, key)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return domain.SourceDocument{}, fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return domain.SourceDocument{}, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("not utf-8 text: "+key))
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	doc, body := parseHeader(text)
	doc.Filename = path.Base(key)
	doc.DocType = strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
	if doc.Title == "" {
		doc.Title = headingTitle(body)
	}
	if doc.Title == "" {
		doc.Title = strings.TrimSuffix(doc.Filename, path.Ext(doc.Filename))
	}

	pages := strings.Split(body, "\f")
	for i := range pages {
		pages[i] = strings.TrimSpace(pages[i])
	}
	return domain.SourceDocument{
		Key:      key,
		Document: doc,
		Pages:    pages,
		Paged:    len(pages) > 1,
	}, nil
}

var headerKeys = map[string]string{
	"title":         domain.FieldTitle,
	"subject":       domain.FieldSubject,
	"sender":        domain.FieldSender,
	"from":          domain.FieldSender,
	"receiver":      domain.FieldReceiver,
	"to":            domain.FieldReceiver,
	"category":      domain.FieldCategory,
	"description":   domain.FieldDescription,
	"date":          "date",
	"version_group": "version_group",
	"version-group": "version_group",
}

// parseHeader returns the metadata and the remaining body. Text whose first
// line is not a known header key has no header.
func parseHeader(text string) (domain.Document, string) {
	var doc domain.Document
	trimmed := strings.TrimLeft(text, "\n")
	lines := strings.Split(trimmed, "\n")

	consumed := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			if consumed > 0 {
				consumed++
			}
			break
		}
		name, value, ok := strings.Cut(line, ":")
		field, known := headerKeys[strings.ToLower(strings.TrimSpace(name))]
		if !ok || !known {
			if consumed == 0 {
				return doc, text
			}
			break
		}
		applyHeader(&doc, field, strings.TrimSpace(value))
		consumed++
	}
	if consumed == 0 {
		return doc, text
	}
	return doc, strings.Join(lines[min(consumed, len(lines)):], "\n")
}

func applyHeader(doc *domain.Document, field, value string) {
	switch field {
	case domain.FieldTitle:
		doc.Title = value
	case domain.FieldSubject:
		doc.Subject = value
	case domain.FieldSender:
		doc.Sender = value
	case domain.FieldReceiver:
		doc.Receiver = value
	case domain.FieldCategory:
		doc.Category = value
	case domain.FieldDescription:
		doc.Description = value
	case "version_group":
		doc.VersionGroupID = value
	case "date":
		if t, err := time.Parse("2006-01-02", value); err == nil {
			doc.DocumentDate = &t
		}
	}
}

func headingTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		return ""
	}
	return ""
}
