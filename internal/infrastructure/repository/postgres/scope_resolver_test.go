package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
)

func newResolverWithMock(t *testing.T) (*ScopeResolver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewScopeResolver(db), mock
}

func expectMembership(mock sqlmock.Sqlmock, member bool) {
	mock.ExpectQuery("FROM org_members").
		WithArgs("org", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(member))
}

func TestResolverRejectsMissingUser(t *testing.T) {
	resolver, mock := newResolverWithMock(t)

	_, err := resolver.AllowedDocumentIDs(context.Background(), domain.Identity{OrgID: "org"}, domain.Scope{Kind: domain.ScopeOrg, OrgID: "org"})
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolverRejectsOrgMismatch(t *testing.T) {
	resolver, _ := newResolverWithMock(t)

	_, err := resolver.AllowedDocumentIDs(context.Background(), domain.Identity{UserID: "u1", OrgID: "org"}, domain.Scope{Kind: domain.ScopeOrg, OrgID: "other"})
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResolverRejectsNonMember(t *testing.T) {
	resolver, mock := newResolverWithMock(t)
	expectMembership(mock, false)

	_, err := resolver.AllowedDocumentIDs(context.Background(), domain.Identity{UserID: "u1", OrgID: "org"}, domain.Scope{Kind: domain.ScopeOrg, OrgID: "org"})
	if !domain.IsKind(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolverOrgScope(t *testing.T) {
	resolver, mock := newResolverWithMock(t)
	expectMembership(mock, true)
	mock.ExpectQuery("SELECT id FROM documents WHERE org_id = \\$1 AND NOT is_folder").
		WithArgs("org").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1").AddRow("d2"))

	allow, err := resolver.AllowedDocumentIDs(context.Background(), domain.Identity{UserID: "u1", OrgID: "org"}, domain.Scope{Kind: domain.ScopeOrg, OrgID: "org"})
	if err != nil {
		t.Fatalf("AllowedDocumentIDs() error = %v", err)
	}
	if allow.Len() != 2 || !allow.Contains("d1") || !allow.Contains("d2") {
		t.Fatalf("unexpected allow set: %v", allow.IDs())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolverFolderScopeWalksTree(t *testing.T) {
	resolver, mock := newResolverWithMock(t)
	expectMembership(mock, true)
	mock.ExpectQuery("WITH RECURSIVE tree").
		WithArgs("org", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("inv-1").AddRow("inv-2"))

	allow, err := resolver.AllowedDocumentIDs(context.Background(), domain.Identity{UserID: "u1", OrgID: "org"}, domain.Scope{Kind: domain.ScopeFolder, OrgID: "org", TargetIDs: []string{"f1"}})
	if err != nil {
		t.Fatalf("AllowedDocumentIDs() error = %v", err)
	}
	if allow.Len() != 2 {
		t.Fatalf("unexpected allow set: %v", allow.IDs())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolverDocScopeKeepsOnlySameOrgLinks(t *testing.T) {
	resolver, mock := newResolverWithMock(t)
	expectMembership(mock, true)
	mock.ExpectQuery("WITH targets AS").
		WithArgs("org", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1").AddRow("d2").AddRow("foreign"))
	mock.ExpectQuery("SELECT id FROM documents WHERE org_id = \\$1 AND id = ANY").
		WithArgs("org", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("d1").AddRow("d2"))

	allow, err := resolver.AllowedDocumentIDs(context.Background(), domain.Identity{UserID: "u1", OrgID: "org"}, domain.Scope{Kind: domain.ScopeDoc, OrgID: "org", TargetIDs: []string{"d1"}})
	if err != nil {
		t.Fatalf("AllowedDocumentIDs() error = %v", err)
	}
	if allow.Contains("foreign") || allow.Len() != 2 {
		t.Fatalf("unexpected allow set: %v", allow.IDs())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
