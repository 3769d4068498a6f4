// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "driver.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
network:
  listen_address: "0.0.0.0:40001"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Driver.Name != "mediadriver" {
		t.Errorf("expected default driver name, got %q", cfg.Driver.Name)
	}
	if cfg.Term.LengthRaw != 64*1024 {
		t.Errorf("expected default term length 64kb, got %d", cfg.Term.LengthRaw)
	}
	if cfg.FlowControl.InitialWindowLengthRaw != 32*1024 {
		t.Errorf("expected default window 32kb, got %d", cfg.FlowControl.InitialWindowLengthRaw)
	}
	if cfg.Liveness.ImageTimeout != 10*time.Second {
		t.Errorf("expected default image timeout 10s, got %v", cfg.Liveness.ImageTimeout)
	}
	if cfg.Liveness.StatusMessageTimeout != 200*time.Millisecond {
		t.Errorf("expected default sm timeout 200ms, got %v", cfg.Liveness.StatusMessageTimeout)
	}
	if cfg.LossDetect.FeedbackDelay != 10*time.Millisecond {
		t.Errorf("expected default feedback delay 10ms, got %v", cfg.LossDetect.FeedbackDelay)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("expected default logging info/json, got %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadParsesFeedbackRateLimit(t *testing.T) {
	path := writeConfig(t, `
network:
  listen_address: "0.0.0.0:40001"
flow_control:
  feedback_rate_limit: "256kb"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FlowControl.FeedbackRateLimitRaw != 256*1024 {
		t.Errorf("expected feedback rate limit 256kb, got %d", cfg.FlowControl.FeedbackRateLimitRaw)
	}
}

func TestLoadRequiresListenAddress(t *testing.T) {
	path := writeConfig(t, `
driver:
  name: "test"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing network.listen_address")
	}
}

func TestLoadRejectsNonPowerOfTwoTermLength(t *testing.T) {
	path := writeConfig(t, `
network:
  listen_address: "0.0.0.0:40001"
term:
  length: "100kb"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non power-of-two term length")
	}
}

func TestLoadAdminRequiresAllowOrigins(t *testing.T) {
	path := writeConfig(t, `
network:
  listen_address: "0.0.0.0:40001"
admin:
  enabled: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for admin enabled without allow_origins")
	}
}

func TestLoadAdminParsesCIDRsAndBareIPs(t *testing.T) {
	path := writeConfig(t, `
network:
  listen_address: "0.0.0.0:40001"
admin:
  enabled: true
  allow_origins:
    - "127.0.0.1"
    - "10.0.0.0/8"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Admin.ParsedCIDRs) != 2 {
		t.Fatalf("expected 2 parsed CIDRs, got %d", len(cfg.Admin.ParsedCIDRs))
	}
	if !cfg.Admin.ParsedCIDRs[0].Contains([]byte{127, 0, 0, 1}) {
		t.Errorf("expected first CIDR to contain 127.0.0.1")
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"64kb", 64 * 1024, false},
		{"16mb", 16 * 1024 * 1024, false},
		{"1gb", 1024 * 1024 * 1024, false},
		{"128", 128, false},
		{"", 0, true},
		{"notasize", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q): expected error, got nil", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
