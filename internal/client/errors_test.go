package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func response(status int, body string) *http.Response {
	rec := httptest.NewRecorder()
	rec.WriteHeader(status)
	_, _ = rec.WriteString(body)
	return rec.Result()
}

func TestNormalizeResponse(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantType   ErrorType
		wantMsg    string
		wantDetail bool
	}{
		{"detail string", http.StatusNotFound, `{"detail":"Item not found"}`, ErrorTypeAPI, "Item not found", true},
		{"detail list", http.StatusUnprocessableEntity, `{"detail":[{"loc":["body","name"],"msg":"field required","type":"missing"},{"msg":"second"}]}`, ErrorTypeAPI, "field required", true},
		{"detail object", http.StatusConflict, `{"detail":{"code":"duplicate","field":"email"}}`, ErrorTypeAPI, "409 Conflict", true},
		{"empty detail list", http.StatusBadRequest, `{"detail":[]}`, ErrorTypeAPI, "400 Bad Request", true},
		{"null detail", http.StatusBadRequest, `{"detail":null}`, ErrorTypeAPI, "400 Bad Request", false},
		{"no detail", http.StatusInternalServerError, `{"error":"boom"}`, ErrorTypeAPI, "500 Internal Server Error", false},
		{"plain text", http.StatusBadGateway, "<html>bad gateway</html>", ErrorTypeAPI, "502 Bad Gateway", false},
		{"empty body", http.StatusServiceUnavailable, "", ErrorTypeAPI, "503 Service Unavailable", false},
		{"unauthorized", http.StatusUnauthorized, `{"detail":"token expired"}`, ErrorTypeAuthentication, "token expired", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeResponse(response(tt.status, tt.body))
			require.NotNil(t, err)
			assert.Equal(t, tt.wantType, err.Type)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, tt.status, err.StatusCode)
			assert.Equal(t, tt.wantDetail, len(err.Detail) > 0)
		})
	}
}

func TestError_DecodeDetail(t *testing.T) {
	err := NormalizeResponse(response(http.StatusConflict, `{"detail":{"code":"duplicate","field":"email"}}`))

	var detail struct {
		Code  string `json:"code"`
		Field string `json:"field"`
	}
	require.NoError(t, err.DecodeDetail(&detail))
	assert.Equal(t, "duplicate", detail.Code)
	assert.Equal(t, "email", detail.Field)

	empty := NormalizeResponse(response(http.StatusTeapot, ""))
	assert.Error(t, empty.DecodeDetail(&detail))
}

func TestErrorHelpers(t *testing.T) {
	network := NewNetworkError("request failed", errors.New("connection refused"))
	wrapped := fmt.Errorf("loading profile: %w", network)

	assert.True(t, IsNetworkError(wrapped))
	assert.False(t, IsAPIError(wrapped))
	assert.False(t, IsAuthenticationError(wrapped))
	assert.Equal(t, "request failed: connection refused", network.Error())
	assert.Zero(t, StatusCode(wrapped))

	auth := &Error{Type: ErrorTypeAuthentication, Message: "token expired", StatusCode: 401, Cause: ErrNoRefreshToken}
	assert.True(t, IsAuthenticationError(auth))
	assert.ErrorIs(t, auth, ErrNoRefreshToken)
	assert.Equal(t, 401, StatusCode(fmt.Errorf("wrap: %w", auth)))

	assert.False(t, IsNetworkError(errors.New("plain")))
	assert.Zero(t, StatusCode(errors.New("plain")))
}

func TestErrorType_String(t *testing.T) {
	tests := map[ErrorType]string{
		ErrorTypeUnknown:        "unknown",
		ErrorTypeNetwork:        "network",
		ErrorTypeAuthentication: "authentication",
		ErrorTypeAPI:            "api",
		ErrorTypeDecode:         "decode",
	}
	for typ, want := range tests {
		if got := typ.String(); got != want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", typ, got, want)
		}
	}
}
