package moderation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator([]string{"scam", "idiot", "fraud"}, replacementChar)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "This ad is a scam for sure",
			expected: "This ad is a **** for sure",
		},
		{
			name:     "Multiple occurrences",
			input:    "scam scam",
			expected: "**** ****",
		},
		{
			name:     "Leet speak and internal punctuation",
			input:    "you 1.d.1.0.t",
			expected: "you *********",
		},
		{
			name:     "Uppercase",
			input:    "FRAUD alert",
			expected: "***** alert",
		},
		{
			name:     "Word adjacent to trailing punctuation",
			input:    "what a scam!",
			expected: "what a ****!",
		},
		{
			name:     "Accents are left alone",
			input:    "Un été à Tanger",
			expected: "Un été à Tanger",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, mod.Censor(tt.input))
		})
	}
}

func TestModerator_NoiseOnlyDictionary(t *testing.T) {
	req := require.New(t)

	// Given a dictionary where every word normalizes to nothing
	mod, err := NewModerator([]string{"...", ",,,", ""}, replacementChar)
	req.NoError(err)

	// Then nothing is censored
	req.Equal("Hello ... world", mod.Censor("Hello ... world"))
}

func TestModerator_MixedDictionary(t *testing.T) {
	req := require.New(t)

	// Given real noise next to a real word
	mod, err := NewModerator([]string{"...", "", "scam"}, replacementChar)
	req.NoError(err)

	// Then only the word is censored
	req.Equal("a **** ...", mod.Censor("a scam ..."))
}

func TestModerator_OverlappingAndRepeatedWords(t *testing.T) {
	req := require.New(t)

	// Given words that repeat under folding and overlap each other
	mod, err := NewModerator([]string{"scam", "SCAM", "sc@m", "scammer"}, '#')
	req.NoError(err)

	// Then the longest match is masked as a whole
	req.Equal("the ####### left", mod.Censor("the scammer left"))
	req.Equal("a #### deal", mod.Censor("a $cam deal"))
}
