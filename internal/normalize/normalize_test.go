package normalize

import (
	"reflect"
	"testing"
)

func TestNormalizeBasic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "CONCRETO USINADO", "concreto usinado"},
		{"diacritics", "alvenaria de vedação", "alvenaria de vedacao"},
		{"cedilla", "aço CA-50", "aco ca 50"},
		{"square meter", "piso em m2", "piso em metro_quadrado"},
		{"square meter unicode", "piso em m²", "piso em metro_quadrado"},
		{"cubic meter", "escavacao 10 m3", "escavacao 10 metro_cubico"},
		{"abbreviation chain", "exec de conc arm", "execucao de concreto armado"},
		{"diameter symbol", "tubo ø 100mm", "tubo diametro 100mm"},
		{"punctuation pruned", "fck=30mpa (usinado)", "fck 30mpa usinado"},
		{"decimal preserved", "espessura 10,5 cm", "espessura 10,5 cm"},
		{"whitespace collapsed", "  tubo   pvc  ", "tubo pvc"},
		{"empty", "", ""},
		{"only symbols", "@#$%", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"CONCRETO USINADO FCK=30MPA",
		"exec de alvenaria estrutural em m²",
		"Fornec e inst de tubo galv ø 3/4 pol",
		"laje pré-moldada 12,5cm",
		"",
	}

	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first=%q second=%q", in, once, twice)
		}
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	in := "Execução de concreto armado fck=25MPa em m³"
	first := Normalize(in)
	for i := 0; i < 10; i++ {
		if got := Normalize(in); got != first {
			t.Fatalf("run %d: got %q, want %q", i, got, first)
		}
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Execução de CONC em m2")
	want := []string{"execucao", "de", "concreto", "em", "metro_quadrado"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}

	if toks := Tokens("   "); toks != nil {
		t.Errorf("expected nil tokens for blank input, got %v", toks)
	}
}
