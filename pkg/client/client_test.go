package client

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, DefaultTimeout, c.client.Timeout)

	c, err = New(Config{BaseURL: "http://example.com/api/", Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/api", c.baseURL)
	assert.Equal(t, 5*time.Second, c.client.Timeout)
}

func TestNewBadCACert(t *testing.T) {
	_, err := New(Config{CACert: filepath.Join(t.TempDir(), "missing.pem")})
	assert.Error(t, err)

	p := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(p, []byte("not a cert"), 0o644))
	_, err = New(Config{CACert: p})
	assert.Error(t, err)
}

func TestIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/status" {
			_, _ = w.Write([]byte(`{"running":false}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	ctx := context.Background()

	c, _ := New(Config{BaseURL: srv.URL + "/api"})
	assert.True(t, c.IsReachable(ctx))
	c, _ = New(Config{BaseURL: srv.URL + "/other"})
	assert.False(t, c.IsReachable(ctx))
	c, _ = New(Config{BaseURL: "http://127.0.0.1:1", Timeout: 100 * time.Millisecond})
	assert.False(t, c.IsReachable(ctx))
}

func TestCallsSendTokenAndDecode(t *testing.T) {
	var auth []string
	var command, useRef string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /start", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"profile":"Default Server","running":true,"pid":42}`))
	})
	mux.HandleFunc("POST /command", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		command = body["command"]
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("GET /advise", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"transition": "downgrade", "magnitude": 1, "required_major": 17,
			"warnings": []map[string]string{{"kind": "downgrade", "message": r.URL.Query().Get("version")}},
			"recommend_new_profile": true,
		})
	})
	mux.HandleFunc("POST /fetch", func(w http.ResponseWriter, r *http.Request) {
		var req FetchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(FetchResult{Version: req.Version, FromCache: true, Message: "restored"})
	})
	mux.HandleFunc("POST /profiles/current", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		useRef = body["profile"]
		_, _ = w.Write([]byte(`{"id":"abc","name":"Creative"}`))
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		mux.ServeHTTP(w, r)
	}))
	defer srv.Close()

	ctx := context.Background()
	c, err := New(Config{BaseURL: srv.URL, Token: "tok"})
	require.NoError(t, err)

	st, err := c.Start(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 42, st.PID)

	require.NoError(t, c.SendCommand(ctx, "say hi"))
	assert.Equal(t, "say hi", command)

	adv, err := c.Advise(ctx, "1.19.2")
	require.NoError(t, err)
	assert.Equal(t, "downgrade", adv.Transition)
	assert.True(t, adv.RecommendNewProfile)
	require.Len(t, adv.Warnings, 1)
	assert.Equal(t, "1.19.2", adv.Warnings[0].Message)

	res, err := c.Fetch(ctx, FetchRequest{Version: "1.21.1"})
	require.NoError(t, err)
	assert.Equal(t, "1.21.1", res.Version)
	assert.True(t, res.FromCache)

	p, err := c.UseProfile(ctx, "creative")
	require.NoError(t, err)
	assert.Equal(t, "creative", useRef)
	assert.Equal(t, "Creative", p.Name)

	for _, a := range auth {
		assert.Equal(t, "Bearer tok", a)
	}
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"server is already running","kind":"already_running"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`not json`))
		}
	}))
	defer srv.Close()
	ctx := context.Background()
	c, _ := New(Config{BaseURL: srv.URL})

	_, err := c.Start(ctx)
	var ae *APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusConflict, ae.Status)
	assert.Equal(t, "already_running", ae.Kind)
	assert.Contains(t, err.Error(), "already running")

	_, err = c.Stop(ctx)
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Contains(t, ae.Message, "502")
}

func TestTLSWithCACert(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"versions":["1.21.1"]}`))
	}))
	defer srv.Close()
	ctx := context.Background()

	ca := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(ca, block, 0o644))

	c, err := New(Config{BaseURL: srv.URL, CACert: ca})
	require.NoError(t, err)
	vs, err := c.Versions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.21.1"}, vs)

	c, _ = New(Config{BaseURL: srv.URL})
	_, err = c.Versions(ctx)
	assert.Error(t, err, "untrusted certificate")

	c, _ = New(Config{BaseURL: srv.URL, Insecure: true})
	_, err = c.Versions(ctx)
	assert.NoError(t, err)
}
