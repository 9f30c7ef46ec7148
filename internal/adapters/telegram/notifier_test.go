package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cryptoSpotBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{ errors int }

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errors++
}

func TestNewNotifier_RequiresCredentials(t *testing.T) {
	_, err := NewNotifier(Config{ChatID: "1", Logger: &mockLogger{}})
	assert.Error(t, err)
	_, err = NewNotifier(Config{BotToken: "t", Logger: &mockLogger{}})
	assert.Error(t, err)
	_, err = NewNotifier(Config{BotToken: "t", ChatID: "1"})
	assert.Error(t, err)
}

func TestNotifier_Send(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		response   string
		wantErr    error
		wantLogged int
	}{
		{name: "delivered", status: http.StatusOK, response: `{"ok":true,"result":{}}`},
		{name: "rejected", status: http.StatusBadRequest, response: `{"ok":false,"error_code":400,"description":"chat not found"}`, wantErr: ports.ErrInvalidRequest, wantLogged: 1},
		{name: "throttled", status: http.StatusTooManyRequests, response: `{"ok":false,"error_code":429,"description":"Too Many Requests"}`, wantErr: ports.ErrRateLimited, wantLogged: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotBody string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			logger := &mockLogger{}
			n, err := NewNotifier(Config{BotToken: "123:abc", ChatID: "42", BaseURL: srv.URL, Logger: logger})
			require.NoError(t, err)

			err = n.Send(context.Background(), "BUY BTCUSDT 0.01 @ 50000")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, "/bot123:abc/sendMessage", gotPath)
			assert.JSONEq(t, `{"chat_id":"42","text":"BUY BTCUSDT 0.01 @ 50000","disable_web_page_preview":true}`, gotBody)

			n.Notify(context.Background(), "again")
			assert.Equal(t, tt.wantLogged, logger.errors)
		})
	}
}

func TestNotifier_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n, err := NewNotifier(Config{BotToken: "t", ChatID: "1", BaseURL: srv.URL, Logger: &mockLogger{}})
	require.NoError(t, err)
	err = n.Send(context.Background(), "x")
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
}
