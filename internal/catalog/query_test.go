package catalog

import "testing"

func TestNormalizeTerm(t *testing.T) {
	// "e" followed by a combining acute accent composes to U+00E9.
	if got := NormalizeTerm("  Cafe\u0301 "); got != "Caf\u00e9" {
		t.Errorf("NormalizeTerm = %q", got)
	}
}

func TestAlbumFromTags(t *testing.T) {
	tests := []struct {
		tags []string
		want string
	}{
		{nil, ""},
		{[]string{"house", "deep"}, ""},
		{[]string{"house", "album:Night Drive"}, "Night Drive"},
		{[]string{"Album: Spaced "}, "Spaced"},
		{[]string{"album:", "album:Second"}, "Second"},
	}
	for _, tt := range tests {
		if got := AlbumFromTags(tt.tags); got != tt.want {
			t.Errorf("AlbumFromTags(%v) = %q, want %q", tt.tags, got, tt.want)
		}
	}
}
