package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

type sourceExtractorFake struct {
	docs map[string]domain.SourceDocument
}

func (f *sourceExtractorFake) Extract(_ context.Context, key string) (domain.SourceDocument, error) {
	doc, ok := f.docs[key]
	if !ok {
		return domain.SourceDocument{}, errors.New("missing source")
	}
	return doc, nil
}

type chunkerFake struct{}

func (chunkerFake) Split(text string) []string {
	var out []string
	for _, part := range strings.Split(text, "|") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type savedDocument struct {
	doc    domain.Document
	fields []domain.FieldEmbedding
	chunks []domain.IndexedChunk
}

type indexWriterFake struct {
	members []string
	folders []string
	parents map[string]string
	saved   []savedDocument
	saveErr error
}

func (f *indexWriterFake) EnsureMember(_ context.Context, orgID, userID string) error {
	f.members = append(f.members, orgID+"/"+userID)
	return nil
}

func (f *indexWriterFake) EnsureFolder(_ context.Context, _ string, folderID, parentID, name string) error {
	if f.parents == nil {
		f.parents = map[string]string{}
	}
	f.folders = append(f.folders, name)
	f.parents[folderID] = parentID
	return nil
}

func (f *indexWriterFake) SaveDocument(_ context.Context, doc domain.Document, fields []domain.FieldEmbedding, chunks []domain.IndexedChunk) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, savedDocument{doc: doc, fields: fields, chunks: chunks})
	return nil
}

type mirrorFake struct {
	docIDs []string
}

func (f *mirrorFake) UpsertChunks(_ context.Context, _ string, documentID string, _ []domain.IndexedChunk) error {
	f.docIDs = append(f.docIDs, documentID)
	return nil
}

func TestIndexCorpusStoresDocumentsFoldersAndChunks(t *testing.T) {
	extractor := &sourceExtractorFake{docs: map[string]domain.SourceDocument{
		"contracts/2024/acme.txt": {
			Document: domain.Document{Title: "ACME supply contract", Sender: "ACME"},
			Pages:    []string{"intro|parties", "payment terms"},
			Paged:    true,
		},
		"notes.md": {
			Document: domain.Document{Title: "Notes"},
			Pages:    []string{"one line"},
		},
	}}
	writer := &indexWriterFake{}
	mirror := &mirrorFake{}
	svc := NewIndexService(extractor, chunkerFake{}, &fakeEmbedder{}, writer, mirror)

	report, err := svc.IndexCorpus(context.Background(), IndexRequest{
		OrgID:  "org",
		UserID: "u1",
		Keys:   []string{"contracts/2024/acme.txt", "notes.md"},
	})
	if err != nil {
		t.Fatalf("IndexCorpus() error = %v", err)
	}
	if report.Documents != 2 || report.Chunks != 4 || report.Folders != 2 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(writer.members) != 1 || writer.members[0] != "org/u1" {
		t.Fatalf("unexpected members: %v", writer.members)
	}
	if len(writer.folders) != 2 || writer.folders[0] != "contracts" || writer.folders[1] != "2024" {
		t.Fatalf("unexpected folders: %v", writer.folders)
	}
	if writer.parents[FolderIDFor("org", "contracts/2024")] != FolderIDFor("org", "contracts") {
		t.Fatalf("nested folder must point at its parent")
	}

	acme := writer.saved[0]
	if acme.doc.ID != DocumentIDFor("org", "contracts/2024/acme.txt") || acme.doc.OrgID != "org" {
		t.Fatalf("unexpected document identity: %+v", acme.doc)
	}
	if acme.doc.FolderID != FolderIDFor("org", "contracts/2024") || acme.doc.Filename != "acme.txt" {
		t.Fatalf("unexpected placement: %+v", acme.doc)
	}
	if len(acme.chunks) != 3 || *acme.chunks[0].Page != 1 || *acme.chunks[2].Page != 2 || acme.chunks[2].Index != 2 {
		t.Fatalf("unexpected chunks: %+v", acme.chunks)
	}
	if len(acme.chunks[0].Vector) == 0 {
		t.Fatalf("chunks must be embedded")
	}
	if len(acme.fields) != 2 || acme.fields[0].Field != domain.FieldTitle || acme.fields[1].Field != domain.FieldSender {
		t.Fatalf("unexpected field embeddings: %+v", acme.fields)
	}

	notes := writer.saved[1]
	if notes.doc.FolderID != "" || notes.chunks[0].Page != nil {
		t.Fatalf("root document must have no folder and no page: %+v", notes)
	}
	if len(mirror.docIDs) != 2 {
		t.Fatalf("expected chunks to be mirrored, got %v", mirror.docIDs)
	}
}

func TestIndexCorpusReportsFailedDocumentsAndContinues(t *testing.T) {
	extractor := &sourceExtractorFake{docs: map[string]domain.SourceDocument{
		"ok.txt":    {Document: domain.Document{Title: "Ok"}, Pages: []string{"body"}},
		"empty.txt": {Document: domain.Document{Title: "Empty"}, Pages: []string{"  "}},
	}}
	writer := &indexWriterFake{}
	svc := NewIndexService(extractor, chunkerFake{}, &fakeEmbedder{}, writer, nil)

	report, err := svc.IndexCorpus(context.Background(), IndexRequest{OrgID: "org", Keys: []string{"missing.txt", "empty.txt", "ok.txt"}})
	if err != nil {
		t.Fatalf("IndexCorpus() error = %v", err)
	}
	if report.Documents != 1 || len(report.Failed) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(writer.members) != 0 {
		t.Fatalf("no membership expected without a user")
	}
}

func TestIndexDocumentPropagatesEmbedFailure(t *testing.T) {
	extractor := &sourceExtractorFake{docs: map[string]domain.SourceDocument{
		"a.txt": {Document: domain.Document{Title: "A"}, Pages: []string{"body"}},
	}}
	writer := &indexWriterFake{}
	svc := NewIndexService(extractor, chunkerFake{}, &fakeEmbedder{err: errors.New("provider down")}, writer, nil)

	if _, err := svc.IndexDocument(context.Background(), "org", "", "a.txt"); err == nil {
		t.Fatalf("expected error")
	}
	if len(writer.saved) != 0 {
		t.Fatalf("nothing must be saved when embedding fails")
	}
}

func TestIndexCorpusRequiresOrg(t *testing.T) {
	svc := NewIndexService(&sourceExtractorFake{}, chunkerFake{}, &fakeEmbedder{}, &indexWriterFake{}, nil)
	_, err := svc.IndexCorpus(context.Background(), IndexRequest{Keys: []string{"a.txt"}})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestDocumentIDsAreStable(t *testing.T) {
	if DocumentIDFor("org", "a.txt") != DocumentIDFor("org", "a.txt") {
		t.Fatalf("document id must be deterministic")
	}
	if DocumentIDFor("org", "a.txt") == DocumentIDFor("other", "a.txt") {
		t.Fatalf("document id must depend on org")
	}
}
