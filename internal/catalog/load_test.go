package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	path := writeTempCSV(t, strings.Join([]string{
		"codigo,descricao,unidade,preco,fonte,grupo",
		`90849,"CONCRETO USINADO BOMBEAVEL FCK=30MPA",m3,"450,75",SINAPI,Concreto`,
		`87245,"ALVENARIA DE VEDAÇÃO DE BLOCOS",m2,"89,90",SINAPI,Alvenaria`,
	}, "\n"))

	records, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	r := records[0]
	if r.Code != "90849" {
		t.Errorf("code = %q", r.Code)
	}
	if r.Price != 450.75 {
		t.Errorf("price = %v, want 450.75", r.Price)
	}
	if r.RowIndex != 0 || records[1].RowIndex != 1 {
		t.Errorf("row indexes not contiguous: %d, %d", r.RowIndex, records[1].RowIndex)
	}
	if !strings.Contains(r.Normalized, "concreto usinado") {
		t.Errorf("normalized description missing expected tokens: %q", r.Normalized)
	}
	if strings.Contains(records[1].Normalized, "ç") {
		t.Errorf("diacritics survived normalization: %q", records[1].Normalized)
	}
}

func TestLoadCSVVerboseHeaders(t *testing.T) {
	path := writeTempCSV(t, strings.Join([]string{
		"codigo_da_composicao,descricao_completa_do_servico_prestado,unidade_de_medida,precos_unitarios_dos_servicos,orgao_responsavel_pela_divulgacao,descricao_do_grupo_de_servico",
		`101,"ESCAVACAO MANUAL DE VALA",m3,"35,00",SICRO,Terraplenagem`,
	}, "\n"))

	records, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Group != "Terraplenagem" || records[0].Source != "SICRO" {
		t.Errorf("verbose header mapping failed: %+v", records[0])
	}
}

func TestLoadCSVMissingColumn(t *testing.T) {
	path := writeTempCSV(t, strings.Join([]string{
		"codigo,descricao,unidade,preco,fonte", // no group column
		`1,"SERVICO",un,"1,00",SINAPI`,
	}, "\n"))

	if _, err := LoadCSV(path); err == nil {
		t.Fatal("expected error for missing required column")
	} else if !strings.Contains(err.Error(), "group") {
		t.Errorf("error does not name the missing column: %v", err)
	}
}

func TestLoadCSVSkipsBlankRows(t *testing.T) {
	path := writeTempCSV(t, strings.Join([]string{
		"codigo,descricao,unidade,preco,fonte,grupo",
		`1,"SERVICO A",un,"1,00",SINAPI,G1`,
		`,"SEM CODIGO",un,"2,00",SINAPI,G1`,
		`3,,un,"3,00",SINAPI,G1`,
		`4,"SERVICO D",un,invalid,SINAPI,G1`,
	}, "\n"))

	records, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 usable records, got %d", len(records))
	}
	// Malformed price defaults to zero instead of aborting the load.
	if records[1].Code != "4" || records[1].Price != 0 {
		t.Errorf("unexpected second record: %+v", records[1])
	}
	if records[0].RowIndex != 0 || records[1].RowIndex != 1 {
		t.Errorf("row indexes not reassigned contiguously after skips")
	}
}

func TestLoadFileUnsupportedExtension(t *testing.T) {
	if _, err := LoadFile("catalog.parquet"); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
