package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_URL", "")
	t.Setenv("SOCKET_URL", "")
	t.Setenv("CREDENTIAL_PATH", "/tmp/cred.json")
	t.Setenv("UPLOAD_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != defaultAPIURL {
		t.Fatalf("unexpected api url %q", cfg.APIURL)
	}
	if cfg.SocketURL != "wss://whatsapp-backend-en5o.onrender.com/ws" {
		t.Fatalf("unexpected socket url %q", cfg.SocketURL)
	}
	if cfg.TypingIdle != time.Second {
		t.Fatalf("unexpected typing idle %v", cfg.TypingIdle)
	}
	if cfg.UploadMode != UploadViaAPI {
		t.Fatalf("unexpected upload mode %q", cfg.UploadMode)
	}
	if cfg.S3.PublicEndpoint != cfg.S3.Endpoint {
		t.Fatal("public endpoint should default to endpoint")
	}
}

func TestLoadOverridesIndependently(t *testing.T) {
	t.Setenv("API_URL", "http://localhost:5000/")
	t.Setenv("SOCKET_URL", "ws://realtime.local:7000/socket")
	t.Setenv("CREDENTIAL_PATH", "/tmp/cred.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "http://localhost:5000" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.APIURL)
	}
	if cfg.SocketURL != "ws://realtime.local:7000/socket" {
		t.Fatalf("socket override ignored: %q", cfg.SocketURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CREDENTIAL_PATH", "/tmp/cred.json")
	t.Setenv("TYPING_IDLE", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid duration error")
	}
	t.Setenv("TYPING_IDLE", "")
	t.Setenv("UPLOAD_MODE", "ftp")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid upload mode error")
	}
	t.Setenv("UPLOAD_MODE", "")
	t.Setenv("S3_USE_SSL", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("expected invalid boolean error")
	}
}

func TestSocketURLFor(t *testing.T) {
	cases := map[string]string{
		"http://localhost:5000":     "ws://localhost:5000/ws",
		"https://chat.example/api/": "wss://chat.example/api/ws",
	}
	for in, want := range cases {
		got, err := SocketURLFor(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s: got %q want %q", in, got, want)
		}
	}
	if _, err := SocketURLFor("ftp://x"); err == nil {
		t.Fatal("expected unsupported scheme error")
	}
}

func TestLoadStub(t *testing.T) {
	t.Setenv("STUB_TOKEN_TTL", "1h")
	cfg, err := LoadStub()
	if err != nil {
		t.Fatalf("load stub: %v", err)
	}
	if cfg.TokenTTL != time.Hour || cfg.HTTPAddr != ":5000" {
		t.Fatalf("unexpected stub config %+v", cfg)
	}
}
