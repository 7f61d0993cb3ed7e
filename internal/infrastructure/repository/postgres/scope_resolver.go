package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// ScopeResolver derives the allow set from org membership and the folder tree.
type ScopeResolver struct {
	db *sql.DB
}

func NewScopeResolver(db *sql.DB) *ScopeResolver {
	return &ScopeResolver{db: db}
}

var _ ports.ScopeResolver = (*ScopeResolver)(nil)

func (r *ScopeResolver) AllowedDocumentIDs(ctx context.Context, identity domain.Identity, scope domain.Scope) (domain.AllowSet, error) {
	const op = "scope.resolve"
	if identity.UserID == "" || identity.OrgID == "" {
		return domain.AllowSet{}, domain.WrapError(domain.ErrUnauthorized, op, errors.New("missing identity"))
	}
	if identity.OrgID != scope.OrgID {
		return domain.AllowSet{}, domain.WrapError(domain.ErrUnauthorized, op, errors.New("organization mismatch"))
	}

	member, err := r.isMember(ctx, identity)
	if err != nil {
		return domain.AllowSet{}, err
	}
	if !member {
		return domain.AllowSet{}, domain.WrapError(domain.ErrUnauthorized, op, fmt.Errorf("user %s is not a member of %s", identity.UserID, identity.OrgID))
	}

	var rows *sql.Rows
	switch scope.Kind {
	case domain.ScopeOrg:
		rows, err = r.db.QueryContext(ctx, `
SELECT id FROM documents WHERE org_id = $1 AND NOT is_folder
`, scope.OrgID)
	case domain.ScopeFolder:
		rows, err = r.db.QueryContext(ctx, `
WITH RECURSIVE tree AS (
	SELECT id FROM folders WHERE org_id = $1 AND id = ANY($2)
	UNION
	SELECT f.id FROM folders f JOIN tree t ON f.parent_id = t.id
)
SELECT d.id FROM documents d
WHERE d.org_id = $1 AND NOT d.is_folder AND d.folder_id IN (SELECT id FROM tree)
`, scope.OrgID, pq.Array(scope.TargetIDs))
	case domain.ScopeDoc:
		// Targets plus explicitly linked documents and other versions of the same group.
		rows, err = r.db.QueryContext(ctx, `
WITH targets AS (
	SELECT id, version_group_id FROM documents
	WHERE org_id = $1 AND id = ANY($2) AND NOT is_folder
)
SELECT id FROM targets
UNION
SELECT l.target_id FROM document_links l JOIN targets t ON l.source_id = t.id
UNION
SELECT l.source_id FROM document_links l JOIN targets t ON l.target_id = t.id
UNION
SELECT d.id FROM documents d JOIN targets t ON d.version_group_id = t.version_group_id
WHERE t.version_group_id <> ''
`, scope.OrgID, pq.Array(scope.TargetIDs))
	default:
		return domain.AllowSet{}, domain.WrapError(domain.ErrInvalidInput, op, fmt.Errorf("unknown scope kind %q", scope.Kind))
	}
	if err != nil {
		return domain.AllowSet{}, fmt.Errorf("resolve %s scope: %w", scope.Kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.AllowSet{}, fmt.Errorf("scan allowed id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return domain.AllowSet{}, fmt.Errorf("iterate allowed ids: %w", err)
	}

	if scope.Kind == domain.ScopeDoc {
		return r.sameOrg(ctx, scope.OrgID, ids)
	}
	return domain.NewAllowSet(ids...), nil
}

func (r *ScopeResolver) isMember(ctx context.Context, identity domain.Identity) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM org_members WHERE org_id = $1 AND user_id = $2)
`, identity.OrgID, identity.UserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check org membership: %w", err)
	}
	return exists, nil
}

// sameOrg drops linked documents that live in another organization.
func (r *ScopeResolver) sameOrg(ctx context.Context, orgID string, ids []string) (domain.AllowSet, error) {
	if len(ids) == 0 {
		return domain.NewAllowSet(), nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id FROM documents WHERE org_id = $1 AND id = ANY($2) AND NOT is_folder
`, orgID, pq.Array(ids))
	if err != nil {
		return domain.AllowSet{}, fmt.Errorf("filter linked documents: %w", err)
	}
	defer rows.Close()

	var kept []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return domain.AllowSet{}, fmt.Errorf("scan linked id: %w", err)
		}
		kept = append(kept, id)
	}
	if err := rows.Err(); err != nil {
		return domain.AllowSet{}, fmt.Errorf("iterate linked ids: %w", err)
	}
	return domain.NewAllowSet(kept...), nil
}
