package errors

import (
	"strings"
	"testing"
)

func TestValidateFormatName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid png", "png", false},
		{"valid svg2", "svg2", false},
		{"valid with dash", "svg-anim", false},

		{"empty", "", true},
		{"too long", strings.Repeat("a", 40), true},
		{"uppercase", "PNG", true},
		{"path traversal", "../png", true},
		{"slash", "png/x", true},
		{"leading dash", "-png", true},
		{"null byte", "png\x00", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormatName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFormatName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !Is(err, ErrCodeInvalidInput) {
				t.Errorf("ValidateFormatName(%q) returned wrong error code: %v", tt.input, err)
			}
		})
	}
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty", "", false},
		{"tikz", `\draw (0,0) -- (1,1);`, false},
		{"multiline", "\\begin{tikzpicture}\n\t\\draw (0,0) circle (1);\n\\end{tikzpicture}\r\n", false},
		{"unicode", `\node {é};`, false},

		{"null byte", "a\x00b", true},
		{"control char", "a\x01b", true},
		{"invalid utf8", "a\xffb", true},
		{"too long", strings.Repeat("x", MaxSourceBytes+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSource("source", tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSource(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePasses(t *testing.T) {
	tests := []struct {
		passes  int
		wantErr bool
	}{
		{1, false},
		{3, false},
		{5, false},
		{0, true},
		{-1, true},
		{6, true},
	}

	for _, tt := range tests {
		err := ValidatePasses(tt.passes, 5)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePasses(%d, 5) error = %v, wantErr %v", tt.passes, err, tt.wantErr)
		}
	}
}
