package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestIsProtected(t *testing.T) {
	checker := NewChecker([]string{"example.com", " Bank.ORG ", ""}, zap.NewNop())

	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"EXAMPLE.COM", true},
		{"mail.example.com", true},
		{"a.b.example.com", true},
		{"bank.org", true},
		{"notexample.com", false},
		{"example.org", false},
		{"com", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, checker.IsProtected(tt.domain), "domain %q", tt.domain)
	}
}

func TestIsProtectedEmptyList(t *testing.T) {
	checker := NewChecker(nil, zap.NewNop())
	assert.False(t, checker.IsProtected("example.com"))
}
