package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/marquee-media-agent/internal/config"
	"github.com/nugget/marquee-media-agent/internal/httpkit"
	"github.com/nugget/marquee-media-agent/internal/tools"
)

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, &out, args); err != nil {
			t.Fatalf("run(%v) error: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: marquee") {
			t.Errorf("run(%v) output missing usage:\n%s", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"launch"}, "unknown command"},
		{"unknown flag", []string{"-x"}, "unknown flag"},
		{"bad output", []string{"-o", "yaml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: marquee ask"},
		{"missing config", []string{"-config", "/nonexistent/config.yaml", "serve"}, "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(context.Background(), &out, &out, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) error = %v, want %q", tt.args, err, tt.want)
			}
		})
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, &out, []string{"-o", "json", "version"}); err != nil {
		t.Fatal(err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("info = %v", info)
	}
}

func TestRun_Tools(t *testing.T) {
	var text bytes.Buffer
	if err := run(context.Background(), &text, &text, []string{"tools"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text.String(), "fetch_cached_result") {
		t.Errorf("text catalog missing fetch_cached_result:\n%s", text.String())
	}

	var js bytes.Buffer
	if err := run(context.Background(), &js, &js, []string{"--output=json", "tools"}); err != nil {
		t.Fatal(err)
	}
	var defs []map[string]any
	if err := json.Unmarshal(js.Bytes(), &defs); err != nil {
		t.Fatalf("json catalog: %v", err)
	}
	if len(defs) != len(tools.Catalog()) {
		t.Errorf("json catalog has %d tools, want %d", len(defs), len(tools.Catalog()))
	}
}

func TestNewApp_UnconfiguredBackends(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	a, err := newApp(context.Background(), cfg, newLogger(&bytes.Buffer{}, 0, "text"))
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()

	if err := a.registry.Validate(); err != nil {
		t.Errorf("registry should cover the catalog: %v", err)
	}
	for _, s := range a.services {
		if s.Tag != "preferences" && s.Configured {
			t.Errorf("%s should not be configured", s.Name)
		}
	}
	if len(a.pings) != 0 {
		t.Errorf("pings = %d, want none without configured backends", len(a.pings))
	}
	for _, name := range []string{"usage.db", "preferences.db"} {
		if _, err := os.Stat(filepath.Join(cfg.DataDir, name)); err != nil {
			t.Errorf("%s not created: %v", name, err)
		}
	}

	result, err := a.registry.Execute(context.Background(), "search_plex", `{"query":"Dune"}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "Plex is not configured") {
		t.Errorf("search_plex = %s", result)
	}
}

func TestLLMTransport_HeaderTimeout(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    time.Duration
	}{
		{120 * time.Second, 120 * time.Second},
		{5 * time.Second, httpkit.DefaultResponseHeader},
		{0, httpkit.DefaultResponseHeader},
	}
	for _, tt := range tests {
		if got := llmTransport(tt.timeout).ResponseHeaderTimeout; got != tt.want {
			t.Errorf("llmTransport(%s).ResponseHeaderTimeout = %s, want %s", tt.timeout, got, tt.want)
		}
	}
}

func TestNewApp_MemoryCacheJanitor(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	a, err := newApp(context.Background(), cfg, newLogger(&bytes.Buffer{}, 0, "text"))
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	if a.janitorDone == nil {
		a.Close()
		t.Fatal("memory result cache janitor not started")
	}

	a.Close()
	select {
	case <-a.janitorDone:
	default:
		t.Error("janitor still running after Close")
	}
}

func TestLoadTalents_FiltersByConfiguredServices(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Plex.URL = "http://127.0.0.1:1"
	cfg.Plex.Token = "token"

	a, err := newApp(context.Background(), cfg, newLogger(&bytes.Buffer{}, 0, "text"))
	if err != nil {
		t.Fatalf("newApp() error: %v", err)
	}
	defer a.Close()

	text, err := a.loadTalents("")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "**Plex**: connected") {
		t.Errorf("manifest missing Plex:\n%s", text)
	}
	if !strings.Contains(text, "**Radarr**: not configured") {
		t.Errorf("manifest should list Radarr as not configured:\n%s", text)
	}
	if _, ok := a.pings["plex"]; !ok || len(a.pings) != 1 {
		t.Errorf("pings = %v, want plex only", a.pings)
	}
}
