package neo4j

import (
	"context"
	"fmt"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

const linkedDocumentsQuery = `
MATCH (d:Document {id: $id})-[:LINKS_TO]-(l:Document)
RETURN l.id AS id, 'linked' AS relation
UNION
MATCH (d:Document {id: $id}), (v:Document)
WHERE d.version_group_id <> '' AND v.version_group_id = d.version_group_id AND v.id <> d.id
RETURN v.id AS id, 'version' AS relation
`

type Config struct {
	URI      string
	Username string
	Password string
	Database string
}

type queryFunc func(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error)

// LinkGraph reads document links and version groups from a Neo4j graph of
// (:Document {id, version_group_id}) nodes joined by LINKS_TO relationships.
type LinkGraph struct {
	driver neo4j.DriverWithContext
	query  queryFunc
}

var _ ports.LinkGraph = (*LinkGraph)(nil)

func New(ctx context.Context, cfg Config) (*LinkGraph, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	g := &LinkGraph{driver: driver}
	g.query = func(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
		result, err := neo4j.ExecuteQuery(ctx, driver, cypher, params,
			neo4j.EagerResultTransformer,
			neo4j.ExecuteQueryWithDatabase(database),
			neo4j.ExecuteQueryWithReadersRouting(),
		)
		if err != nil {
			return nil, err
		}
		return result.Records, nil
	}
	return g, nil
}

func (g *LinkGraph) LinkedDocuments(ctx context.Context, documentID string) ([]domain.DocumentLink, error) {
	records, err := g.query(ctx, linkedDocumentsQuery, map[string]any{"id": documentID})
	if err != nil {
		return nil, fmt.Errorf("neo4j linked documents: %w", err)
	}

	// A document that is both linked and a version is reported as a version.
	relations := make(map[string]domain.LinkRelation, len(records))
	for _, rec := range records {
		id, _, err := neo4j.GetRecordValue[string](rec, "id")
		if err != nil {
			return nil, fmt.Errorf("neo4j record id: %w", err)
		}
		relation, _, err := neo4j.GetRecordValue[string](rec, "relation")
		if err != nil {
			return nil, fmt.Errorf("neo4j record relation: %w", err)
		}
		if relations[id] == domain.RelationVersion {
			continue
		}
		relations[id] = domain.LinkRelation(relation)
	}

	out := make([]domain.DocumentLink, 0, len(relations))
	for id, relation := range relations {
		out = append(out, domain.DocumentLink{DocumentID: id, Relation: relation})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

func (g *LinkGraph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}
