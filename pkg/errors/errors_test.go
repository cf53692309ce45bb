package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientErrorFormatting(t *testing.T) {
	err := NewServer("GetAccounts", http.StatusBadGateway, "bad gateway")
	assert.Contains(t, err.Error(), "[server] GetAccounts")
	assert.Contains(t, err.Error(), "status 502")

	wrapped := NewNetwork("GetAccounts", fmt.Errorf("dial tcp: refused"))
	assert.Contains(t, wrapped.Error(), "dial tcp: refused")
	assert.Error(t, wrapped.Unwrap())
}

func TestIsNoLinkedAccountsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("load transactions: %w", NewNoLinkedAccounts("GetTransactions"))
	assert.True(t, IsNoLinkedAccounts(err))
	assert.False(t, IsType(err, ErrorTypeServer))
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.False(t, IsNoLinkedAccounts(fmt.Errorf("plain")))
}

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetwork("op", nil), true},
		{"server 500", NewServer("op", 500, ""), true},
		{"server 429", NewServer("op", 429, ""), true},
		{"server 400", NewServer("op", 400, ""), false},
		{"no linked accounts", NewNoLinkedAccounts("op"), false},
		{"widget", NewWidget("op", "exit", nil), false},
		{"plain", fmt.Errorf("boom"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
