package ws

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/open-same/collab-hub/internal/logger"
)

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list", nil, "https://a.test", true},
		{"wildcard", []string{"*"}, "https://a.test", true},
		{"exact origin", []string{"https://a.test"}, "https://a.test", true},
		{"trailing slash", []string{"https://a.test/"}, "https://a.test", true},
		{"case insensitive", []string{"HTTPS://A.test"}, "https://a.test", true},
		{"scheme mismatch", []string{"https://a.test"}, "http://a.test", false},
		{"bare host https", []string{"a.test"}, "https://a.test", true},
		{"bare host http", []string{"a.test"}, "http://a.test", true},
		{"bare host with port", []string{"a.test:8080"}, "http://a.test:8080", true},
		{"bare host port mismatch", []string{"a.test"}, "http://a.test:8080", false},
		{"other host", []string{"a.test", "https://b.test"}, "https://c.test", false},
		{"unparseable origin", []string{"a.test"}, "://bad", false},
		{"null origin", []string{"a.test"}, "null", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OriginAllowed(tt.allowed, tt.origin))
		})
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	hub := NewHub(testConfig(), logger.Discard())
	h := NewHandler(hub, []string{"docs.example.com"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, h.checkOrigin(req), "requests without Origin are allowed")

	req.Header.Set("Origin", "https://docs.example.com")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.test")
	assert.False(t, h.checkOrigin(req))
}
