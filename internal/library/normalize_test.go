package library

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Zoë", "Zoe"},
		{"Jiří", "Jiri"},
		{"François", "Francois"},
		{"plain", "plain"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := RemoveDiacritics(tt.input); got != tt.want {
			t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeCreatorName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Anna-Marie Nováková", "anna marie novakova"},
		{"some_creator", "some creator"},
		{"  Double  Space ", "double space"},
		{"MixedCASE", "mixedcase"},
	}

	for _, tt := range tests {
		if got := NormalizeCreatorName(tt.input); got != tt.want {
			t.Errorf("NormalizeCreatorName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
