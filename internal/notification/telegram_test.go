package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infra-alert/internal/config"
)

func newTelegramServer(t *testing.T, handle func(method string, body map[string]any) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]
		assert.Equal(t, "/bottoken/"+method, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		status, resp := handle(method, body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
}

func TestTelegramSendAndDelete(t *testing.T) {
	var calls []string
	srv := newTelegramServer(t, func(method string, body map[string]any) (int, string) {
		calls = append(calls, method)
		assert.Equal(t, float64(42), body["chat_id"])
		switch method {
		case "sendMessage":
			assert.Equal(t, "HTML", body["parse_mode"])
			assert.Contains(t, body["text"], "<pre>")
			assert.Contains(t, body["text"], "CPU 97%")
			return http.StatusOK, `{"ok":true,"result":{"message_id":777}}`
		case "deleteMessage":
			assert.Equal(t, float64(777), body["message_id"])
			return http.StatusOK, `{"ok":true,"result":true}`
		}
		return http.StatusNotFound, `{"ok":false}`
	})
	defer srv.Close()

	ch := NewTelegramChannel(config.TelegramConfig{Token: "token", APIURL: srv.URL + "/", RateLimit: 100})
	h, err := ch.Send(context.Background(), "42", testMessage())
	require.NoError(t, err)
	assert.Equal(t, Handle("777"), h)

	require.NoError(t, ch.Delete(context.Background(), "42", h))
	assert.Equal(t, []string{"sendMessage", "deleteMessage"}, calls)
}

func TestTelegramAPIErrorDescription(t *testing.T) {
	srv := newTelegramServer(t, func(method string, body map[string]any) (int, string) {
		return http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: message to delete not found"}`
	})
	defer srv.Close()

	ch := NewTelegramChannel(config.TelegramConfig{Token: "token", APIURL: srv.URL, RateLimit: 100})
	err := ch.Delete(context.Background(), "42", Handle("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "message to delete not found")
}

func TestTelegramRejectsBadTarget(t *testing.T) {
	ch := NewTelegramChannel(config.TelegramConfig{Token: "token", APIURL: "http://127.0.0.1:1", RateLimit: 1})
	_, err := ch.Send(context.Background(), "not-a-chat", testMessage())
	assert.Error(t, err)
	assert.Error(t, ch.Delete(context.Background(), "42", Handle("abc")))
}
