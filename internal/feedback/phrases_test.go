package feedback

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestKeyPhrasesDropsStopWordsAndAddsBigrams(t *testing.T) {
	got := KeyPhrases("Show the sales for Acme")
	want := []string{"show", "sales", "acme", "show sales", "sales acme"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("KeyPhrases() mismatch (-want +got):\n%s", diff)
	}
	if got := KeyPhrases("the of and"); len(got) != 0 {
		t.Fatalf("KeyPhrases(stop words) = %v", got)
	}
}

func TestGeneralizeSQL(t *testing.T) {
	got := GeneralizeSQL(`SELECT * FROM Sales WHERE status = 'open' AND amount > 500 AND "note" = "x"`)
	want := `select * from sales where status = '<string>' and amount > <number> and "<string>" = "<string>"`
	if got != want {
		t.Fatalf("GeneralizeSQL() = %q, want %q", got, want)
	}
}

func TestJaccard(t *testing.T) {
	a := phraseSet("ledger balance")
	b := phraseSet("ledger balance report")
	// {ledger, balance, ledger balance} vs {ledger, balance, report, ledger balance, balance report}
	if got := jaccard(a, b); got != 3.0/5.0 {
		t.Fatalf("jaccard() = %v", got)
	}
	if got := jaccard(a, map[string]struct{}{}); got != 0 {
		t.Fatalf("jaccard(empty) = %v", got)
	}
}
