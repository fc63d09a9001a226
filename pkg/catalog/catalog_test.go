package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"shopchat/pkg/config"
)

const sampleCSV = `name,subcategory,current_price,currency,variation_0_color,variation_1_color,brand
Combat Boot,Boots,89.99,USD,black,brown,acme
boot sale,Boots,19.5,USD,white,,acme
Sandal,Sandals,25,EUR,brown,black,sunny
 Trail Runner ,Sneakers,120,USD,black,,fast
Slipper,,9,USD,grey,,home
`

func mustReadCSV(t *testing.T, limit int) *Catalog {
	t.Helper()
	catalog, err := ReadCSV(strings.NewReader(sampleCSV), limit)
	if err != nil {
		t.Fatalf("ReadCSV() error = %v", err)
	}
	return catalog
}

func names(products []Product) []string {
	out := make([]string, 0, len(products))
	for _, product := range products {
		out = append(out, product.Name)
	}
	return out
}

func TestReadCSV(t *testing.T) {
	catalog := mustReadCSV(t, 0)
	if catalog.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", catalog.Len())
	}

	want := Product{Name: "Combat Boot", Subcategory: "Boots", CurrentPrice: "89.99", Currency: "USD", Colors: [2]string{"black", "brown"}}
	if got := catalog.Products()[0]; got != want {
		t.Fatalf("first product = %+v, want %+v", got, want)
	}
}

func TestReadCSVHonorsRowLimit(t *testing.T) {
	catalog := mustReadCSV(t, 2)
	if got := names(catalog.Products()); !reflect.DeepEqual(got, []string{"Combat Boot", "boot sale"}) {
		t.Fatalf("products = %v", got)
	}
	if got := catalog.Search("sandal"); len(got) != 0 {
		t.Fatalf("Search() beyond limit = %v, want none", names(got))
	}
}

func TestReadCSVRejectsMissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("name,subcategory,current_price,currency,variation_0_color\nA,B,1,USD,red\n"), 0)
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("error = %v, want ErrMissingColumn", err)
	}
	if !strings.Contains(err.Error(), ColumnColor1) {
		t.Fatalf("error = %v, want missing column name", err)
	}

	if _, err := ReadCSV(strings.NewReader(""), 0); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("empty file error = %v, want ErrMissingColumn", err)
	}
}

func TestSearch(t *testing.T) {
	catalog := mustReadCSV(t, 0)

	tests := []struct {
		term string
		want []string
	}{
		{term: "boot", want: []string{"Combat Boot", "boot sale"}},
		{term: "  BOOT ", want: []string{"Combat Boot", "boot sale"}},
		{term: "trail runner", want: []string{"Trail Runner"}},
		{term: "heels", want: []string{}},
		{term: "", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got := names(catalog.Search(tt.term))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Search(%q) = %v, want %v", tt.term, got, tt.want)
			}
		})
	}
}

func TestSubcategories(t *testing.T) {
	got := mustReadCSV(t, 0).Subcategories()
	want := []string{"Boots", "Sandals", "Sneakers"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Subcategories() = %v, want %v", got, want)
	}
}

func TestFilterByColorAndSubcategory(t *testing.T) {
	catalog := mustReadCSV(t, 0)

	tests := []struct {
		name        string
		color       string
		subcategory string
		want        []string
	}{
		{name: "first variant", color: "black", subcategory: "Boots", want: []string{"Combat Boot"}},
		{name: "second variant", color: "brown", subcategory: "Boots", want: []string{"Combat Boot"}},
		{name: "other subcategory", color: "black", subcategory: "Sandals", want: []string{"Sandal"}},
		{name: "case sensitive", color: "Black", subcategory: "Boots", want: []string{}},
		{name: "no match", color: "pink", subcategory: "Boots", want: []string{}},
		{name: "empty criteria", color: "", subcategory: "", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := names(catalog.FilterByColorAndSubcategory(tt.color, tt.subcategory))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Filter(%q, %q) = %v, want %v", tt.color, tt.subcategory, got, tt.want)
			}
		})
	}
}

func TestLoadFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shoes.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	catalog, err := Load(context.Background(), config.CatalogConfig{Source: "csv", Path: path, RowLimit: 3})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if catalog.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", catalog.Len())
	}

	if _, err := Load(context.Background(), config.CatalogConfig{Source: "csv", Path: filepath.Join(t.TempDir(), "missing.csv")}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(context.Background(), config.CatalogConfig{Source: "excel"}); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("unknown source error = %v, want ErrInvalidSource", err)
	}
	if _, err := Load(context.Background(), config.CatalogConfig{Source: "postgres"}); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
}

func TestSelectQueryQuotesIdentifiers(t *testing.T) {
	got := selectQuery("shop.products", true)
	want := `SELECT "name"::text, "subcategory"::text, "current_price"::text, "currency"::text, ` +
		`"variation_0_color"::text, "variation_1_color"::text FROM "shop"."products" LIMIT $1`
	if got != want {
		t.Fatalf("selectQuery() = %q, want %q", got, want)
	}

	if got := selectQuery(`bad"table`, false); !strings.HasSuffix(got, `FROM "bad""table"`) {
		t.Fatalf("selectQuery() = %q, want escaped table name", got)
	}
}

// TestLoadPostgres runs against a real database when SHOPCHAT_TEST_POSTGRES_DSN is set.
func TestLoadPostgres(t *testing.T) {
	dsn := os.Getenv("SHOPCHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHOPCHAT_TEST_POSTGRES_DSN not set")
	}

	catalog, err := LoadPostgres(context.Background(), dsn, "products", 100)
	if err != nil {
		t.Fatalf("LoadPostgres() error = %v", err)
	}
	if catalog.Len() > 100 {
		t.Fatalf("Len() = %d, want at most 100", catalog.Len())
	}
}
