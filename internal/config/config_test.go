package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("COURIER_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.HTTP.ShutdownTimeout != 10*time.Second {
		t.Errorf("expected 10s shutdown timeout, got %s", cfg.HTTP.ShutdownTimeout)
	}
	if cfg.Matching.DefaultRadiusKm != 5 || cfg.Matching.MaxStaleness != 0 {
		t.Errorf("unexpected matching defaults: %+v", cfg.Matching)
	}
	if cfg.Assignment.UnassignPolicy != "revert" {
		t.Errorf("expected revert policy, got %q", cfg.Assignment.UnassignPolicy)
	}
	if cfg.RabbitMQ.BindingKey != "delivery.created" {
		t.Errorf("unexpected binding key %q", cfg.RabbitMQ.BindingKey)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "courier.yaml")
	yaml := "http:\n  addr: \":9000\"\nauth:\n  jwt_secret: fromfile\nmatching:\n  max_staleness: 2m\nlog:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("COURIER_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Errorf("expected file addr :9000, got %q", cfg.HTTP.Addr)
	}
	if cfg.Matching.MaxStaleness != 2*time.Minute {
		t.Errorf("expected 2m staleness, got %s", cfg.Matching.MaxStaleness)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected env to win, got %q", cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing jwt secret", env: map[string]string{}, want: "jwt_secret"},
		{name: "unknown auth mode", env: map[string]string{"COURIER_AUTH_MODE": "basic"}, want: "auth.mode"},
		{name: "firebase without project", env: map[string]string{"COURIER_AUTH_MODE": "firebase"}, want: "firebase_project_id"},
		{name: "bad policy", env: map[string]string{"COURIER_AUTH_JWT_SECRET": "x", "COURIER_ASSIGNMENT_UNASSIGN_POLICY": "drop"}, want: "unassign_policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
