package catalog

import (
	"slices"
	"testing"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"7.9.0", "7.10.0", -1},
		{"7.10.0", "7.9.0", 1},
		{"9.1.0", "9.1.0", 0},
		{"9.1", "9.1.0", -1},
		{"v8", "7.10.0", 1},
		{"nightly", "1.0.0", -1},
		{"alpha", "beta", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCompareVersionsSortsNumerically(t *testing.T) {
	versions := []string{"7.10.0", "nightly", "7.9.0", "10.0.0", "7.9.1"}
	slices.SortFunc(versions, CompareVersions)
	want := []string{"nightly", "7.9.0", "7.9.1", "7.10.0", "10.0.0"}
	if !slices.Equal(versions, want) {
		t.Errorf("sorted = %v, want %v", versions, want)
	}
}
