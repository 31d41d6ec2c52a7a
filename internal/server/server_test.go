package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/otpgate/apiserver/config"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() config.Config {
	return config.Config{
		ServerPort: 0,
		JWT:        config.JWTConfig{Secret: "s3cret", ExpiresIn: 0},
		Store:      config.StoreConfig{Backend: config.StoreMemory},
		Email:      config.EmailConfig{Transport: config.TransportLog},
	}
}

func TestOpenStores_Memory(t *testing.T) {
	stores, err := OpenStores(context.Background(), memoryConfig())
	require.NoError(t, err)
	assert.NoError(t, stores.Pinger.Ping(context.Background()))
	assert.NoError(t, stores.Close(context.Background()))
}

func TestOpenStores_Unknown(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Backend = "cassandra"
	_, err := OpenStores(context.Background(), cfg)
	assert.Error(t, err)
}

func TestOpenMailer(t *testing.T) {
	m, closeFn, err := OpenMailer(context.Background(), memoryConfig(), logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &mailer.LogMailer{}, m)
	assert.NoError(t, closeFn())

	cfg := memoryConfig()
	cfg.Email.Transport = "pigeon"
	_, _, err = OpenMailer(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}

func TestOpenQueue_RequiresQueuedTransport(t *testing.T) {
	_, err := OpenQueue(context.Background(), memoryConfig())
	assert.Error(t, err)
}

func TestRouter_Wiring(t *testing.T) {
	cfg := memoryConfig()
	stores, err := OpenStores(context.Background(), cfg)
	require.NoError(t, err)
	router := NewRouter(cfg, stores, mailer.NewLogMailer(logging.Discard()), logging.Discard())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body, _ := json.Marshal(map[string]string{"email": "a@x.com", "password": "secret1"})
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/send-otp", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_ValidatesConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWT.Secret = ""
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}
