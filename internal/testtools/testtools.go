// Package testtools holds fixtures shared by package tests: YAML-driven
// error cases, inline configuration and temporary output paths.
package testtools

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"gridsim/internal/config"
)

// Case is one entry of a YAML case file:
//
//	case_name:
//	  params: {...}          # handed to the code under test
//	  throws: ErrorKind      # optional, expected error substring
//	  match: "text"          # optional, second expected substring
type Case struct {
	Name   string
	Params config.Node
	Throws string
	Match  string
}

// LoadCases reads all cases from a YAML file, in document order.
func LoadCases(path string) ([]Case, error) {
	root, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return CasesFrom(root)
}

// CasesFrom reads cases from an already loaded mapping.
func CasesFrom(root config.Node) ([]Case, error) {
	var cases []Case
	for _, name := range root.Keys() {
		n := root.Sub(name)
		if !n.IsMap() {
			return nil, fmt.Errorf("%w '%s': a case must be a mapping", config.ErrInvalid, n.Path())
		}
		throws, err := config.GetOr(n, "throws", "")
		if err != nil {
			return nil, err
		}
		match, err := config.GetOr(n, "match", "")
		if err != nil {
			return nil, err
		}
		cases = append(cases, Case{Name: name, Params: n.Sub("params"), Throws: throws, Match: match})
	}
	return cases, nil
}

// MustLoadCases is LoadCases that fails the test on error.
func MustLoadCases(t testing.TB, path string) []Case {
	t.Helper()
	cases, err := LoadCases(path)
	if err != nil {
		t.Fatalf("loading cases from %s: %v", path, err)
	}
	return cases
}

// Check verifies err against the case expectation.
func (c Case) Check(t testing.TB, err error) {
	t.Helper()
	if c.Throws == "" {
		if err != nil {
			t.Fatalf("case %s: unexpected error: %v", c.Name, err)
		}
		return
	}
	if err == nil {
		t.Fatalf("case %s: expected error containing %q, got nil", c.Name, c.Throws)
	}
	for _, want := range []string{c.Throws, c.Match} {
		if want != "" && !strings.Contains(err.Error(), want) {
			t.Fatalf("case %s: error %q does not contain %q", c.Name, err, want)
		}
	}
}

// Config parses an inline YAML document and fails the test on error.
func Config(t testing.TB, doc string) config.Node {
	t.Helper()
	n, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parsing inline config: %v", err)
	}
	return n
}

// TempOutput returns a path for an output file inside the test's temporary
// directory. The directory is removed when the test ends.
func TempOutput(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

// Approx reports whether a and b agree within the absolute tolerance tol.
func Approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// ApproxSlice reports whether two slices agree element-wise within tol.
func ApproxSlice(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Approx(a[i], b[i], tol) {
			return false
		}
	}
	return true
}
