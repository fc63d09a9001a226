package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const defaultTable = "products"

// LoadPostgres reads up to limit products from table in the order the database scans it.
func LoadPostgres(ctx context.Context, dsn string, table string, limit int) (*Catalog, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("catalog.postgres_dsn is required for the postgres source")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return queryProducts(ctx, db, table, limit)
}

func queryProducts(ctx context.Context, db *sql.DB, table string, limit int) (*Catalog, error) {
	if strings.TrimSpace(table) == "" {
		table = defaultTable
	}

	rows, err := db.QueryContext(ctx, selectQuery(table, limit > 0), limitArgs(limit)...)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "undefined_column" {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, pqErr.Message)
		}
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var name, subcategory, price, currency, color0, color1 sql.NullString
		if err := rows.Scan(&name, &subcategory, &price, &currency, &color0, &color1); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		products = append(products, Product{
			Name:         strings.TrimSpace(name.String),
			Subcategory:  subcategory.String,
			CurrentPrice: price.String,
			Currency:     currency.String,
			Colors:       [2]string{color0.String, color1.String},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}

	return New(products, limit), nil
}

// selectQuery casts every column to text so prices keep their stored representation.
func selectQuery(table string, limited bool) string {
	columns := make([]string, 0, len(requiredColumns))
	for _, column := range requiredColumns {
		columns = append(columns, pq.QuoteIdentifier(column)+"::text")
	}

	query := "SELECT " + strings.Join(columns, ", ") + " FROM " + quoteTable(table)
	if limited {
		query += " LIMIT $1"
	}
	return query
}

// quoteTable quotes an optionally schema-qualified table name.
func quoteTable(table string) string {
	parts := strings.Split(strings.TrimSpace(table), ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

func limitArgs(limit int) []any {
	if limit <= 0 {
		return nil
	}
	return []any{limit}
}
