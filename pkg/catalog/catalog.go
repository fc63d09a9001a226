package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shopchat/pkg/config"
)

const (
	SourceCSV      = "csv"
	SourcePostgres = "postgres"
)

// Required columns of every catalog source.
const (
	ColumnName         = "name"
	ColumnSubcategory  = "subcategory"
	ColumnCurrentPrice = "current_price"
	ColumnCurrency     = "currency"
	ColumnColor0       = "variation_0_color"
	ColumnColor1       = "variation_1_color"
)

var requiredColumns = []string{ColumnName, ColumnSubcategory, ColumnCurrentPrice, ColumnCurrency, ColumnColor0, ColumnColor1}

var (
	ErrMissingColumn = errors.New("catalog source is missing a required column")
	ErrInvalidSource = errors.New("unsupported catalog source")
)

// Product is one row of the catalog. Names are trimmed; CurrentPrice keeps the source text verbatim.
type Product struct {
	Name         string
	Subcategory  string
	CurrentPrice string
	Currency     string
	Colors       [2]string
}

// Catalog is an immutable, ordered product table safe for concurrent readers.
type Catalog struct {
	products []Product
}

// New copies at most limit products into a catalog; limit <= 0 keeps them all.
func New(products []Product, limit int) *Catalog {
	if limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	return &Catalog{products: append([]Product(nil), products...)}
}

// Load reads the catalog from the configured source.
func Load(ctx context.Context, cfg config.CatalogConfig) (*Catalog, error) {
	limit := cfg.RowLimit
	if limit <= 0 {
		limit = config.DefaultCatalogRowLimit
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", SourceCSV:
		return LoadCSV(cfg.Path, limit)
	case SourcePostgres:
		return LoadPostgres(ctx, cfg.PostgresDSN, cfg.Table, limit)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, cfg.Source)
	}
}

func (c *Catalog) Len() int {
	return len(c.products)
}

// Products returns a copy of the rows in table order.
func (c *Catalog) Products() []Product {
	return append([]Product(nil), c.products...)
}

// Search returns products whose name contains term, ignoring case, in table order.
// An empty term matches nothing.
func (c *Catalog) Search(term string) []Product {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}

	var matches []Product
	for _, product := range c.products {
		if strings.Contains(strings.ToLower(product.Name), term) {
			matches = append(matches, product)
		}
	}
	return matches
}

// Subcategories lists distinct non-empty subcategories in first-seen order.
func (c *Catalog) Subcategories() []string {
	seen := make(map[string]struct{})
	var subcategories []string
	for _, product := range c.products {
		if product.Subcategory == "" {
			continue
		}
		if _, ok := seen[product.Subcategory]; ok {
			continue
		}
		seen[product.Subcategory] = struct{}{}
		subcategories = append(subcategories, product.Subcategory)
	}
	return subcategories
}

// FilterByColorAndSubcategory returns products with an exact subcategory match offered in
// color as either variant. Empty criteria match nothing.
func (c *Catalog) FilterByColorAndSubcategory(color string, subcategory string) []Product {
	if color == "" || subcategory == "" {
		return nil
	}

	var matches []Product
	for _, product := range c.products {
		if product.Subcategory != subcategory {
			continue
		}
		if product.Colors[0] == color || product.Colors[1] == color {
			matches = append(matches, product)
		}
	}
	return matches
}
