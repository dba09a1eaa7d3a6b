package lexical

import (
	"reflect"
	"strings"
	"testing"
)

var corpus = []string{
	"concreto usinado bombeavel fck 30mpa",
	"concreto magro para lastro",
	"alvenaria de vedacao de blocos ceramicos",
	"escavacao manual de vala",
	"concreto usinado fck 25mpa lancamento",
}

func TestTopKRanksExactMatchesFirst(t *testing.T) {
	idx := Build(corpus)

	hits := idx.TopK(strings.Fields("concreto usinado 30mpa"), 3)
	if len(hits) == 0 {
		t.Fatal("expected hits for matching query")
	}
	if hits[0].RowIndex != 0 {
		t.Errorf("expected row 0 first, got row %d", hits[0].RowIndex)
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not in descending score order at %d", i)
		}
	}
}

func TestTopKDeterministic(t *testing.T) {
	idx := Build(corpus)
	query := strings.Fields("concreto fck")

	first := idx.TopK(query, 5)
	for i := 0; i < 10; i++ {
		if got := idx.TopK(query, 5); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d produced different ordering: %v vs %v", i, got, first)
		}
	}
}

func TestTopKTieBreakByRowIndex(t *testing.T) {
	// Two identical documents must tie, and the earlier row wins.
	idx := Build([]string{
		"alvenaria estrutural",
		"tubo pvc esgoto",
		"tubo pvc esgoto",
	})

	hits := idx.TopK(strings.Fields("tubo pvc"), 3)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Score != hits[1].Score {
		t.Fatalf("expected tied scores, got %v and %v", hits[0].Score, hits[1].Score)
	}
	if hits[0].RowIndex != 1 || hits[1].RowIndex != 2 {
		t.Errorf("tie not broken by ascending row index: %v", hits)
	}
}

func TestTopKUnknownTerms(t *testing.T) {
	idx := Build(corpus)
	if hits := idx.TopK(strings.Fields("xyzzy quux"), 5); len(hits) != 0 {
		t.Errorf("expected no hits for unknown terms, got %v", hits)
	}
}

func TestTopKTruncates(t *testing.T) {
	idx := Build(corpus)
	hits := idx.TopK(strings.Fields("concreto"), 2)
	if len(hits) != 2 {
		t.Errorf("expected 2 hits, got %d", len(hits))
	}
}

func TestEmptyIndex(t *testing.T) {
	idx := Build(nil)
	if idx.Len() != 0 {
		t.Errorf("empty index Len = %d", idx.Len())
	}
	if hits := idx.TopK(strings.Fields("concreto"), 5); hits != nil {
		t.Errorf("expected nil hits from empty index, got %v", hits)
	}
}
