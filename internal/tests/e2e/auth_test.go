//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/otpgate/apiserver/config"
	"github.com/otpgate/apiserver/internal/db"
	"github.com/otpgate/apiserver/internal/logging"
	"github.com/otpgate/apiserver/internal/mailer"
	"github.com/otpgate/apiserver/internal/server"
)

var (
	baseURL string
	inbox   = &capturingMailer{codes: map[string]string{}}
	codeRe  = regexp.MustCompile(`>(\d{6})<`)
)

// capturingMailer keeps the last code mailed to each address.
type capturingMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *capturingMailer) Send(ctx context.Context, msg mailer.Message) error {
	m := codeRe.FindStringSubmatch(msg.HTML)
	if m == nil {
		return fmt.Errorf("no code in message to %s", msg.To)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[msg.To] = m[1]
	return nil
}

func (c *capturingMailer) code(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[email]
}

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	root, err := repoRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to locate repo root: %v\n", err)
		os.Exit(1)
	}
	if err := dockerCompose(ctx, root, "up", "-d"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start docker compose: %v\n", err)
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "e2e-secret"
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store not ready: %v\n", err)
		_ = dockerCompose(context.Background(), root, "down")
		os.Exit(1)
	}

	srv := httptest.NewServer(server.NewRouter(cfg, stores, inbox, logging.Discard()))
	baseURL = srv.URL

	code := m.Run()

	srv.Close()
	_ = stores.Close(context.Background())
	_ = dockerCompose(context.Background(), root, "down")
	os.Exit(code)
}

// openStores retries until the backend accepts connections.
func openStores(ctx context.Context, cfg config.Config) (*server.Stores, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		var err error
		if cfg.Store.Backend == config.StorePostgres {
			err = db.MigrateUp(cfg)
		}
		if err == nil {
			var stores *server.Stores
			stores, err = server.OpenStores(ctx, cfg)
			if err == nil {
				return stores, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, err
		case <-ticker.C:
		}
	}
}

type authResponse struct {
	AccessToken string `json:"accessToken"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Message string `json:"message"`
}

func TestSignUpSignInSignOut(t *testing.T) {
	email := fmt.Sprintf("e2e_%d@example.com", time.Now().UnixNano())

	status, _ := post(t, "/auth/send-otp", "", map[string]string{"email": email, "password": "secret1"})
	if status != http.StatusOK {
		t.Fatalf("send-otp status %d", status)
	}
	code := inbox.code(email)
	if code == "" {
		t.Fatalf("no code captured for %s", email)
	}

	status, body := post(t, "/auth/verify-otp", "", map[string]string{"email": email, "otp": code, "password": "secret1"})
	if status != http.StatusOK {
		t.Fatalf("verify-otp status %d: %s", status, body)
	}
	var signedUp authResponse
	mustDecode(t, body, &signedUp)
	if signedUp.AccessToken == "" || signedUp.User.ID == "" {
		t.Fatalf("incomplete verify-otp response: %s", body)
	}

	status, _ = post(t, "/auth/verify-otp", "", map[string]string{"email": email, "otp": code, "password": "secret1"})
	if status != http.StatusUnauthorized {
		t.Fatalf("reused otp: expected 401, got %d", status)
	}

	status, _ = post(t, "/auth/sign-in", "", map[string]string{"email": email, "password": "wrongpass"})
	if status != http.StatusUnauthorized {
		t.Fatalf("wrong password: expected 401, got %d", status)
	}

	status, body = post(t, "/auth/sign-in", "", map[string]string{"email": email, "password": "secret1"})
	if status != http.StatusOK {
		t.Fatalf("sign-in status %d: %s", status, body)
	}
	var signedIn authResponse
	mustDecode(t, body, &signedIn)
	if signedIn.User.ID != signedUp.User.ID {
		t.Fatalf("sign-in returned user %q, want %q", signedIn.User.ID, signedUp.User.ID)
	}

	status, body = post(t, "/auth/sign-out", signedIn.AccessToken, nil)
	if status != http.StatusOK {
		t.Fatalf("sign-out status %d: %s", status, body)
	}

	status, _ = post(t, "/auth/send-otp", "", map[string]string{"email": email, "password": "secret1"})
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate send-otp: expected 400, got %d", status)
	}
}

func post(t *testing.T, path, token string, payload any) (int, []byte) {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, &body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s: %v", path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func mustDecode(t *testing.T, data []byte, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", strings.TrimSpace(string(data)), err)
	}
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}

func dockerCompose(ctx context.Context, root string, args ...string) error {
	cmd := exec.CommandContext(ctx, "docker", append([]string{"compose"}, args...)...)
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
