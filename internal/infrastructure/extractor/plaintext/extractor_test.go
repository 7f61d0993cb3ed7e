package plaintext

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

type memorySource map[string]string

func (m memorySource) Open(_ context.Context, key string) (io.ReadCloser, error) {
	content, ok := m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func TestExtractParsesHeaderAndPages(t *testing.T) {
	src := memorySource{"contracts/acme.txt": "Title: Supply contract\nFrom: ACME Corp\nTo: Globex\nDate: 2024-03-01\nVersion-Group: acme-supply\n\nParties and scope.\fPayment is due in 30 days.\r\n"}

	got, err := NewExtractor(src).Extract(context.Background(), "contracts/acme.txt")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	doc := got.Document
	if doc.Title != "Supply contract" || doc.Sender != "ACME Corp" || doc.Receiver != "Globex" {
		t.Fatalf("unexpected metadata: %+v", doc)
	}
	if doc.DocumentDate == nil || doc.DocumentDate.Format("2006-01-02") != "2024-03-01" {
		t.Fatalf("unexpected date: %v", doc.DocumentDate)
	}
	if doc.VersionGroupID != "acme-supply" || doc.Filename != "acme.txt" || doc.DocType != "txt" {
		t.Fatalf("unexpected document fields: %+v", doc)
	}
	if !got.Paged || len(got.Pages) != 2 || got.Pages[0] != "Parties and scope." || got.Pages[1] != "Payment is due in 30 days." {
		t.Fatalf("unexpected pages: %q", got.Pages)
	}
}

func TestExtractWithoutHeaderUsesHeadingOrFilename(t *testing.T) {
	src := memorySource{
		"notes/meeting.md": "# Weekly sync\n\nNote: this line is body text.",
		"plain.txt":        "Just text.",
	}
	ex := NewExtractor(src)

	got, err := ex.Extract(context.Background(), "notes/meeting.md")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Document.Title != "Weekly sync" || got.Paged {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !strings.Contains(got.Pages[0], "Note: this line is body text.") {
		t.Fatalf("body must be kept: %q", got.Pages[0])
	}

	got, err = ex.Extract(context.Background(), "plain.txt")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got.Document.Title != "plain" || got.Pages[0] != "Just text." {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	src := memorySource{"scan.txt": string([]byte{0xff, 0xfe, 0x00})}
	_, err := NewExtractor(src).Extract(context.Background(), "scan.txt")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
