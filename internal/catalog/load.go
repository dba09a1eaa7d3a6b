package catalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/prumolabs/prumo/internal/normalize"
)

// Column aliases accepted in catalog headers. The verbose names are the
// ones shipped in the published service datasets; the short names are
// our internal standard.
var columnAliases = map[string]string{
	"code":   "code",
	"codigo": "code",
	"codigo_da_composicao": "code",

	"description": "description",
	"descricao":   "description",
	"descricao_original": "description",
	"descricao_completa_do_servico_prestado": "description",

	"unit":    "unit",
	"unidade": "unit",
	"unidade_de_medida": "unit",

	"price": "price",
	"preco": "price",
	"precos_unitarios_dos_servicos": "price",

	"source": "source",
	"fonte":  "source",
	"orgao_responsavel_pela_divulgacao": "source",

	"group": "group",
	"grupo": "group",
	"descricao_do_grupo_de_servico": "group",
}

var requiredColumns = []string{"code", "description", "unit", "price", "source", "group"}

// LoadFile reads a catalog file, dispatching on extension (.csv, .xlsx).
// Every row gets its description normalized and its price parsed; rows
// with an empty code or description are skipped. A missing required
// column is a fatal error.
func LoadFile(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".xlsx":
		return LoadXLSX(path)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
}

// LoadCSV reads a catalog from a CSV file.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading catalog header: %w", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading catalog row %d: %w", len(records)+2, err)
		}
		if rec, ok := rowToRecord(row, cols); ok {
			rec.RowIndex = len(records)
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("catalog %s contains no usable rows", path)
	}
	return records, nil
}

// LoadXLSX reads a catalog from the first sheet of an XLSX workbook.
func LoadXLSX(path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	cols, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, row := range rows[1:] {
		if rec, ok := rowToRecord(row, cols); ok {
			rec.RowIndex = len(records)
			records = append(records, rec)
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("catalog %s contains no usable rows", path)
	}
	return records, nil
}

// mapColumns resolves a header row into canonical field → column index.
// All six required fields must be present.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(requiredColumns))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if canonical, ok := columnAliases[key]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	for _, req := range requiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("catalog is missing required column %q", req)
		}
	}
	return cols, nil
}

func rowToRecord(row []string, cols map[string]int) (Record, bool) {
	cell := func(field string) string {
		idx := cols[field]
		if idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	rec := Record{
		Code:        cell("code"),
		Description: cell("description"),
		Unit:        cell("unit"),
		Price:       ParsePrice(cell("price")),
		Source:      cell("source"),
		Group:       cell("group"),
	}
	if rec.Code == "" || rec.Description == "" {
		return Record{}, false
	}
	rec.Normalized = normalize.Normalize(rec.Description)
	return rec, true
}
