package mockserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/embernet/sidekick-sub000/pkg/inference/request"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func body(t *testing.T, req *request.Request) io.Reader {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

func validRequest() *request.Request {
	return &request.Request{
		ModelSettings: settings.NewModelSettings("sidekick", "mock"),
		Prompt:        "hello world",
	}
}

func TestServer_Chat(t *testing.T) {
	s := New(WithRefreshedToken("fresh"))
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, transport.ChatPath, body(t, validRequest()))
	s.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var resp transport.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello world", resp.Content)
	assert.Equal(t, "fresh", resp.AccessToken)
	require.Len(t, s.Requests(), 1)
}

func TestServer_ChatStreamed(t *testing.T) {
	s := New()
	w := httptest.NewRecorder()
	req := validRequest()
	req.SystemPrompt = "pirate\nmore"
	r := httptest.NewRequest(http.MethodPost, transport.ChatStreamedPath, body(t, req))
	s.Handler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[pirate] hello world", w.Body.String())
}

func TestServer_RejectsBadRequests(t *testing.T) {
	s := New()

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, transport.ChatPath, bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := validRequest()
	req.ModelSettings = nil
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, transport.ChatPath, body(t, req)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing model settings")
}

func TestServer_Auth(t *testing.T) {
	s := New(WithAPIKey("secret"))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, transport.ChatPath, body(t, validRequest())))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, transport.ChatPath, body(t, validRequest()))
	r.Header.Set("Authorization", "Bearer secret")
	s.Handler().ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_InjectedFailure(t *testing.T) {
	s := New(WithFailure(&Failure{StatusCode: http.StatusTooManyRequests, Message: "rate limited"}))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, transport.ChatPath, body(t, validRequest())))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limited"}`, w.Body.String())

	s.SetFailure(nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, transport.ChatPath, body(t, validRequest())))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_Health(t *testing.T) {
	w := httptest.NewRecorder()
	New().Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
