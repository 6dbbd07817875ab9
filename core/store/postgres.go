package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/google/uuid"
	"github.com/seastead-tech/pelorus/core/csql"
	"github.com/seastead-tech/pelorus/core/schema"
)

// Postgres is a Documents implementation storing one table per object
// type. The serial column preserves insertion order.
type Postgres struct {
	db *csql.DB
}

// NewPostgres creates a postgres document store and the tables for all
// types of the registry, if they do not exist yet.
func NewPostgres(db *csql.DB, registry *schema.Registry) *Postgres {
	for _, name := range registry.Names() {
		createQuery := fmt.Sprintf(`CREATE table IF NOT EXISTS %s."%s"
(uuid uuid NOT NULL PRIMARY KEY,
serial SERIAL,
document json NOT NULL,
created_at timestamp NOT NULL DEFAULT now()
);`, db.Schema, name)
		_, err := db.Exec(createQuery)
		if err != nil {
			panic(fmt.Errorf("cannot create collection %s: %s", name, err))
		}
	}
	return &Postgres{db: db}
}

// whereClause renders the filter as a WHERE clause with numbered
// parameters. Field names and values are passed as parameters, never
// interpolated.
func whereClause(filter Filter) (string, []interface{}) {
	if len(filter) == 0 {
		return "", nil
	}
	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	clause := " WHERE "
	var parameters []interface{}
	for i, field := range fields {
		if i > 0 {
			clause += " AND "
		}
		switch expected := filter[field].(type) {
		case Regex:
			operator := "~"
			if expected.CaseInsensitive {
				operator = "~*"
			}
			clause += fmt.Sprintf("document->>$%d %s $%d", len(parameters)+1, operator, len(parameters)+2)
			parameters = append(parameters, field, expected.Pattern)
		default:
			clause += fmt.Sprintf("document->>$%d = $%d", len(parameters)+1, len(parameters)+2)
			parameters = append(parameters, field, fmt.Sprintf("%v", expected))
		}
	}
	return clause, parameters
}

// Find returns all matching documents in insertion order.
func (p *Postgres) Find(ctx context.Context, collection string, filter Filter) ([]map[string]interface{}, error) {
	clause, parameters := whereClause(filter)
	query := fmt.Sprintf(`SELECT document FROM %s."%s"%s ORDER BY serial;`,
		p.db.Schema, collection, clause)

	rows, err := p.db.QueryContext(ctx, query, parameters...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var documents []map[string]interface{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
		}
		var document map[string]interface{}
		if err := json.Unmarshal(raw, &document); err != nil {
			return nil, fmt.Errorf("cannot unmarshal document from %s: %w", collection, err)
		}
		documents = append(documents, document)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return documents, nil
}

// FindOne returns the first matching document, or false.
func (p *Postgres) FindOne(ctx context.Context, collection string, filter Filter) (map[string]interface{}, bool, error) {
	clause, parameters := whereClause(filter)
	query := fmt.Sprintf(`SELECT document FROM %s."%s"%s ORDER BY serial LIMIT 1;`,
		p.db.Schema, collection, clause)

	var raw []byte
	err := p.db.QueryRowContext(ctx, query, parameters...).Scan(&raw)
	if err == csql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	var document map[string]interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, false, fmt.Errorf("cannot unmarshal document from %s: %w", collection, err)
	}
	return document, true, nil
}

// Count returns the number of matching documents.
func (p *Postgres) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	clause, parameters := whereClause(filter)
	query := fmt.Sprintf(`SELECT count(*) FROM %s."%s"%s;`, p.db.Schema, collection, clause)

	var count int
	err := p.db.QueryRowContext(ctx, query, parameters...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return count, nil
}

// Save upserts the document under its uuid.
func (p *Postgres) Save(ctx context.Context, collection string, id uuid.UUID, document map[string]interface{}) error {
	body, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("cannot marshal document for %s: %w", collection, err)
	}
	query := fmt.Sprintf(`INSERT INTO %s."%s"(uuid,document)
VALUES($1,$2)
ON CONFLICT (uuid) DO UPDATE SET document=$2;`, p.db.Schema, collection)

	_, err = p.db.ExecContext(ctx, query, id, string(body))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return nil
}

// Delete removes the document with the uuid.
func (p *Postgres) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s."%s" WHERE uuid=$1;`, p.db.Schema, collection)
	_, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	return nil
}
