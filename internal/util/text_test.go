package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "", SanitizeText(nil))
	assert.Equal(t, "V1", SanitizeText("  V1\t"))
	assert.Equal(t, "42", SanitizeText(42))
	assert.Equal(t, "true", SanitizeText(true))
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"Voter ID":        "voterid",
		" Phone_Number ":  "phonenumber",
		"Voter-UId No.":   "voteruidno",
		"Secret PIN (4)":  "secretpin4",
		"":                "",
		"Constituency Id": "constituencyid",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), in)
	}
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   bool
		wantOK bool
	}{
		{"yes", true, true},
		{"Y", true, true},
		{" 1 ", true, true},
		{"TRUE", true, true},
		{"no", false, true},
		{"0", false, true},
		{"n", false, true},
		{false, false, true},
		{1, true, true},
		{"", false, false},
		{"maybe", false, false},
		{nil, false, false},
	}
	for _, tt := range tests {
		got, ok := ParseBool(tt.in)
		assert.Equal(t, tt.wantOK, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestContainsSuspicious(t *testing.T) {
	assert.False(t, ContainsSuspicious("V1"))
	assert.False(t, ContainsSuspicious("9999999999"))
	assert.True(t, ContainsSuspicious("<script>"))
	assert.True(t, ContainsSuspicious("${jndi}"))
	assert.True(t, ContainsSuspicious("a\x00b"))
}
