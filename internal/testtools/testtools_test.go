package testtools

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCasesKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cases.yml")
	doc := `
ok_case:
  params: {a: 1}
failing_case:
  params: {a: -1}
  throws: negative
  match: "'a'"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cases := MustLoadCases(t, path)
	if len(cases) != 2 {
		t.Fatalf("got %d cases", len(cases))
	}
	if cases[0].Name != "ok_case" || cases[1].Name != "failing_case" {
		t.Fatalf("unexpected order: %s, %s", cases[0].Name, cases[1].Name)
	}
	if !cases[0].Params.Has("a") {
		t.Fatal("params not loaded")
	}
	cases[0].Check(t, nil)
	cases[1].Check(t, errors.New("value 'a' is negative"))
}

func TestApprox(t *testing.T) {
	if !Approx(1.0, 1.0+1e-10, 1e-9) {
		t.Fatal("Approx rejected close values")
	}
	if ApproxSlice([]float64{1, 2}, []float64{1}, 1) {
		t.Fatal("ApproxSlice accepted different lengths")
	}
}
