package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:             "development",
		DefaultInstance: "default",
		CORSOrigins:     []string{"http://localhost:3000"},
		BodyLimit:       "1M",
		RequestTimeout:  5 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	catalog, err := loadCatalog("")
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	return newServer(testConfig(), zerolog.Nop(), nil, catalog)
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id on every response")
	}
	if !strings.Contains(rec.Body.String(), version) {
		t.Errorf("expected version in body, got %s", rec.Body.String())
	}
}

func TestServer_ValueSetRoutesNeedNoDatabase(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/value-sets/v2026.procedure.Colonoscopy", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "45378") {
		t.Error("expected colonoscopy codes in response")
	}
}

func TestServer_FHIRValidateCode(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/fhir/ValueSet/$validate-code?url=v2026.procedure.Colonoscopy&system=http://www.ama-assn.org/go/cpt&code=45378", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"valueBoolean":true`) {
		t.Errorf("expected a positive result, got %s", rec.Body.String())
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestLoadCatalog_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	overlay := "value_sets:\n  - id: ClinicFollowUp\n    codes:\n      LOINC: [\"99999-9\"]\n"
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatal(err)
	}

	catalog, err := loadCatalog(path)
	if err != nil {
		t.Fatalf("loadCatalog: %v", err)
	}
	if _, err := catalog.Get("custom.custom.ClinicFollowUp"); err != nil {
		t.Errorf("expected overlay value set, got %v", err)
	}

	if _, err := loadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing overlay file")
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValuesetCmd_List(t *testing.T) {
	out, err := runCLI(t, "valueset", "list", "--version", "v2026", "--category", "procedure", "--custom", "")
	if err != nil {
		t.Fatalf("valueset list: %v", err)
	}
	if !strings.Contains(out, "v2026.procedure.Colonoscopy") {
		t.Errorf("expected colonoscopy in listing:\n%s", out)
	}
	if strings.Contains(out, "v2022.") {
		t.Error("version filter not applied")
	}
}

func TestValuesetCmd_Show(t *testing.T) {
	out, err := runCLI(t, "valueset", "show", "Colonoscopy", "--custom", "")
	if err != nil {
		t.Fatalf("valueset show: %v", err)
	}
	if !strings.Contains(out, `"oid": "2.16.840.1.113883.3.464.1003.108.12.1020"`) {
		t.Errorf("expected OID in output:\n%s", out)
	}

	if _, err := runCLI(t, "valueset", "show", "Weight", "--custom", ""); err == nil {
		t.Error("expected ambiguity error for Weight")
	}
}

func TestValuesetCmd_Lookup(t *testing.T) {
	out, err := runCLI(t, "valueset", "lookup", "http://loinc.org", "29463-7", "--custom", "")
	if err != nil {
		t.Fatalf("valueset lookup: %v", err)
	}
	if lines := strings.Split(strings.TrimSpace(out), "\n"); len(lines) != 3 {
		t.Errorf("expected 3 matching value sets, got %v", lines)
	}

	if _, err := runCLI(t, "valueset", "lookup", "LOINC", "00000-0", "--custom", ""); err == nil {
		t.Error("expected error when nothing matches")
	}
}

func TestInstanceCmd_RequiresName(t *testing.T) {
	if _, err := runCLI(t, "instance", "create"); err == nil || !strings.Contains(err.Error(), "--name") {
		t.Errorf("expected --name error, got %v", err)
	}
}

func TestInstanceOrDefault(t *testing.T) {
	cfg := testConfig()
	if got := instanceOrDefault("", cfg); got != "default" {
		t.Errorf("expected default, got %s", got)
	}
	if got := instanceOrDefault("clinic_a", cfg); got != "clinic_a" {
		t.Errorf("expected clinic_a, got %s", got)
	}
}

func TestNewLogger_Level(t *testing.T) {
	cfg := testConfig()
	cfg.LogLevel = "warn"
	if lvl := newLogger(cfg).GetLevel(); lvl != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %v", lvl)
	}
}

func TestEffectSink(t *testing.T) {
	cfg := testConfig()
	sink, err := effectSink(cfg, zerolog.Nop())
	if err != nil || sink != nil {
		t.Errorf("expected no sink without a webhook url, got %v", err)
	}

	cfg.EffectsWebhookURL = "not a url"
	if _, err := effectSink(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for an invalid webhook url")
	}

	cfg.EffectsWebhookURL = "https://hooks.example/effects"
	cfg.EffectsWebhookSecret = "secret"
	if sink, err := effectSink(cfg, zerolog.Nop()); err != nil || sink == nil {
		t.Errorf("expected a sink, got %v", err)
	}
}

func TestValuesetCmd_CustomFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	overlay := "value_sets:\n  - id: ClinicFollowUp\n    codes:\n      LOINC: [\"99999-9\"]\n"
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("CUSTOM_VALUE_SETS", path)
	defer os.Unsetenv("CUSTOM_VALUE_SETS")

	out, err := runCLI(t, "valueset", "show", "ClinicFollowUp")
	if err != nil {
		t.Fatalf("valueset show: %v", err)
	}
	if !strings.Contains(out, "99999-9") {
		t.Errorf("expected overlay codes, got:\n%s", out)
	}

	if _, err := runCLI(t, "valueset", "show", "ClinicFollowUp", "--custom", ""); err == nil {
		t.Error("expected an explicit empty --custom to skip the overlay")
	}
}
