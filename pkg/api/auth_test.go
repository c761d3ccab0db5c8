package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
)

func TestRequestOperator(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{
			name:     "no headers falls back to anonymous operator",
			headers:  map[string]string{},
			expected: "operator",
		},
		{
			name: "forwarded user wins over email",
			headers: map[string]string{
				"X-Forwarded-User":  "maj.reyes",
				"X-Forwarded-Email": "reyes@aoc.mil",
			},
			expected: "maj.reyes",
		},
		{
			name: "email used when no forwarded user",
			headers: map[string]string{
				"X-Forwarded-Email": "reyes@aoc.mil",
			},
			expected: "reyes@aoc.mil",
		},
		{
			name: "remote user covers rbac-proxy service accounts",
			headers: map[string]string{
				"X-Remote-User": "system:serviceaccount:aether:scheduler",
			},
			expected: "system:serviceaccount:aether:scheduler",
		},
		{
			name: "forwarded user wins over remote user",
			headers: map[string]string{
				"X-Forwarded-User": "maj.reyes",
				"X-Remote-User":    "system:serviceaccount:aether:scheduler",
			},
			expected: "maj.reyes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			assert.Equal(t, tt.expected, requestOperator(c))
		})
	}
}
