package notifier

import "testing"

func TestMatchesAny(t *testing.T) {
	cases := []struct {
		root, path string
		patterns   []string
		want       bool
	}{
		{"/proj", "/proj/src/a/b.ts", []string{"src/**/*.ts"}, true},
		{"/proj", "/proj/src/b.ts", []string{"src/**/*.ts"}, true},
		{"/proj", "/proj/lib/b.ts", []string{"src/**/*.ts"}, false},
		{"/proj", "/proj/anything", nil, true},
	}
	for _, c := range cases {
		got := matchesAny(c.root, c.path, c.patterns)
		if got != c.want {
			t.Errorf("matchesAny(%q, %q, %v) = %v, want %v", c.root, c.path, c.patterns, got, c.want)
		}
	}
}

func TestIsExcluded(t *testing.T) {
	if !isExcluded("/proj/.git/HEAD", []string{".git"}) {
		t.Errorf("expected .git path to be excluded")
	}
	if isExcluded("/proj/src/main.go", []string{".git"}) {
		t.Errorf("did not expect src path to be excluded")
	}
}

func TestIsUnder(t *testing.T) {
	if !isUnder("/proj/backend", "/proj/backend/x.go") {
		t.Errorf("expected path to be under root")
	}
	if isUnder("/proj/backend", "/proj/frontend/x.go") {
		t.Errorf("did not expect sibling path to be under root")
	}
}
