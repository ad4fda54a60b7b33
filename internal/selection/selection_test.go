package selection

import (
	"reflect"
	"testing"
)

func TestResolvePatternsGlobs(t *testing.T) {
	names := []string{"config", "config_log", "config_plugins", "course", "course_modules"}
	got, err := ResolvePatterns([]string{"config*", "course"}, names)
	if err != nil {
		t.Fatalf("ResolvePatterns: %v", err)
	}
	want := []string{"config", "config_log", "config_plugins", "course"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolvePatterns = %v, want %v", got, want)
	}
}

func TestResolvePatternsLiteralPassthrough(t *testing.T) {
	// Literals pass through even when absent from the known names.
	got, err := ResolvePatterns([]string{"ghost", "b*"}, []string{"ba", "bb", "ca"})
	if err != nil {
		t.Fatalf("ResolvePatterns: %v", err)
	}
	want := []string{"ghost", "ba", "bb"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolvePatterns = %v, want %v", got, want)
	}
}

func TestResolvePatternsAnchored(t *testing.T) {
	// Globs are anchored: b* must not match ab.
	got, err := ResolvePatterns([]string{"b*", "*c"}, []string{"ab", "bc", "xc", "d"})
	if err != nil {
		t.Fatalf("ResolvePatterns: %v", err)
	}
	want := []string{"bc", "xc"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolvePatterns = %v, want %v", got, want)
	}
}

func TestResolvePatternsDedup(t *testing.T) {
	got, err := ResolvePatterns([]string{"a*", "ab"}, []string{"ab", "ac"})
	if err != nil {
		t.Fatalf("ResolvePatterns: %v", err)
	}
	want := []string{"ab", "ac"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolvePatterns = %v, want %v", got, want)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList("a, b,,c ")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
	if SplitList("") != nil {
		t.Error("empty input should yield nil")
	}
}
