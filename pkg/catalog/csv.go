package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadCSV reads up to limit products from a CSV file with a header row.
func LoadCSV(path string, limit int) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("catalog.path is required for the csv source")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer file.Close()

	catalog, err := ReadCSV(file, limit)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return catalog, nil
}

// ReadCSV parses CSV rows from r. Columns beyond the required ones are ignored.
func ReadCSV(r io.Reader, limit int) (*Catalog, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var products []Product
	for limit <= 0 || len(products) < limit {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(products)+2, err)
		}

		field := func(column string) string {
			i := index[column]
			if i >= len(record) {
				return ""
			}
			return record[i]
		}
		products = append(products, Product{
			Name:         strings.TrimSpace(field(ColumnName)),
			Subcategory:  field(ColumnSubcategory),
			CurrentPrice: field(ColumnCurrentPrice),
			Currency:     field(ColumnCurrency),
			Colors:       [2]string{field(ColumnColor0), field(ColumnColor1)},
		})
	}

	return New(products, limit), nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, column := range header {
		name := strings.TrimSpace(strings.TrimPrefix(column, "\ufeff"))
		if _, ok := index[name]; !ok {
			index[name] = i
		}
	}

	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, column)
		}
	}
	return index, nil
}
