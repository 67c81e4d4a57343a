package selfhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bakaf/pixel/internal/db"
	"github.com/bakaf/pixel/internal/platform"
)

// PostgresDocumentStore keeps documents as JSONB rows in the documents table.
type PostgresDocumentStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgresDocumentStore constructs a document store backed by PostgreSQL.
func NewPostgresDocumentStore(pool db.Pool) *PostgresDocumentStore {
	return &PostgresDocumentStore{pool: pool, now: time.Now}
}

// CreateDocument inserts data under documentID.
func (s *PostgresDocumentStore) CreateDocument(ctx context.Context, databaseID, collectionID, documentID string, data map[string]any) (platform.Document, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return platform.Document{}, invalidArgument("Invalid `data` param: %v", err)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return platform.Document{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	now := s.now().UTC()
	_, err = conn.Exec(ctx, `
        INSERT INTO documents (database_id, collection_id, id, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5)
    `, databaseID, collectionID, documentID, payload, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return platform.Document{}, errDocumentExists
		}
		return platform.Document{}, fmt.Errorf("insert document: %w", err)
	}

	var stored map[string]any
	if err := json.Unmarshal(payload, &stored); err != nil {
		return platform.Document{}, fmt.Errorf("decode stored document: %w", err)
	}
	return platform.Document{
		ID:           documentID,
		DatabaseID:   databaseID,
		CollectionID: collectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
		Data:         stored,
	}, nil
}

// ListDocuments applies queries in SQL.
func (s *PostgresDocumentStore) ListDocuments(ctx context.Context, databaseID, collectionID string, queries ...platform.Query) (platform.DocumentList, error) {
	sql, args, err := buildListQuery(databaseID, collectionID, queries)
	if err != nil {
		return platform.DocumentList{}, err
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return platform.DocumentList{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return platform.DocumentList{}, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	list := platform.DocumentList{Documents: []platform.Document{}}
	for rows.Next() {
		doc := platform.Document{DatabaseID: databaseID, CollectionID: collectionID}
		var total int64
		if err := rows.Scan(&doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt, &total); err != nil {
			return platform.DocumentList{}, fmt.Errorf("scan document: %w", err)
		}
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		list.Total = int(total)
		list.Documents = append(list.Documents, doc)
	}

	if err := rows.Err(); err != nil {
		return platform.DocumentList{}, fmt.Errorf("iterate documents: %w", err)
	}

	return list, nil
}

// buildListQuery translates queries into one SELECT. Attribute names travel as
// parameters; only system column names are spliced into the statement.
func buildListQuery(databaseID, collectionID string, queries []platform.Query) (string, []any, error) {
	args := []any{databaseID, collectionID}
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := []string{"database_id = $1", "collection_id = $2"}
	var orders []string
	limit := ""

	for _, q := range queries {
		switch q.Method {
		case platform.MethodEqual:
			if len(q.Values) == 0 {
				return "", nil, invalidQuery("Invalid query: equal on %s needs at least one value", q.Attribute)
			}
			column, err := filterColumn(q.Attribute, param)
			if err != nil {
				return "", nil, err
			}
			values := make([]string, 0, len(q.Values))
			for _, v := range q.Values {
				values = append(values, fmt.Sprint(v))
			}
			where = append(where, column+" = ANY("+param(values)+")")

		case platform.MethodSearch:
			column, err := filterColumn(q.Attribute, param)
			if err != nil {
				return "", nil, err
			}
			terms := strings.Fields(q.TextValue())
			if len(terms) == 0 {
				where = append(where, "FALSE")
				continue
			}
			for _, term := range terms {
				where = append(where, column+" ILIKE "+param("%"+escapeLike(term)+"%"))
			}

		case platform.MethodOrderAsc, platform.MethodOrderDesc:
			column, err := orderColumn(q.Attribute, param)
			if err != nil {
				return "", nil, err
			}
			direction := "ASC"
			if q.Method == platform.MethodOrderDesc {
				direction = "DESC"
			}
			orders = append(orders, column+" "+direction)

		case platform.MethodLimit:
			n, ok := q.LimitValue()
			if !ok || n < 0 {
				return "", nil, invalidQuery("Invalid query: limit must be a non-negative integer")
			}
			limit = " LIMIT " + param(n)

		default:
			return "", nil, invalidQuery("Invalid query method: %s", q.Method)
		}
	}

	if len(orders) == 0 {
		orders = []string{"created_at ASC"}
	}

	sql := "SELECT id, data, created_at, updated_at, COUNT(*) OVER () FROM documents WHERE " +
		strings.Join(where, " AND ") +
		" ORDER BY " + strings.Join(orders, ", ") +
		limit
	return sql, args, nil
}

func filterColumn(attribute string, param func(any) string) (string, error) {
	switch {
	case attribute == "$id":
		return "id", nil
	case attribute == "" || strings.HasPrefix(attribute, "$"):
		return "", invalidQuery("Invalid query: attribute %q cannot be filtered", attribute)
	default:
		return "data->>" + param(attribute) + "::text", nil
	}
}

func orderColumn(attribute string, param func(any) string) (string, error) {
	switch attribute {
	case "$id":
		return "id", nil
	case platform.AttrCreatedAt:
		return "created_at", nil
	case "$updatedAt":
		return "updated_at", nil
	}
	return filterColumn(attribute, param)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var _ platform.DocumentService = (*PostgresDocumentStore)(nil)
