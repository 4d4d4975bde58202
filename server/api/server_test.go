package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/migadu/filterd/server/delivery"
	"github.com/migadu/filterd/server/sieveengine"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	runtime := sieveengine.NewRuntime()
	runtime.SetLocalHostname("mx1.example.com")
	compiler := sieveengine.NewCompiler(sieveengine.DefaultCompilerLimits(), runtime.Capabilities())

	script, err := compiler.Compile("spam-filter", `
if header :contains "X-Spam-Flag" "YES" {
	discard;
}
`)
	if err != nil {
		t.Fatalf("Failed to compile script: %v", err)
	}

	core := &sieveengine.Core{
		Compiler: compiler,
		Runtime:  runtime,
		Scripts:  map[string]*sieveengine.Script{"spam-filter": script},
		Identity: sieveengine.Identity{
			FromAddr: "MAILER-DAEMON@mx1.example.com",
			FromName: "Mailer Daemon",
		},
	}

	server, err := New(core, delivery.NewDispatcher(core, nil), ServerOptions{Addr: "127.0.0.1:0", APIKey: "secret"})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return server
}

func doRequest(t *testing.T, s *Server, method, path, apiKey, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	s.setupRoutes().ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/health", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", rec.Code)
	}

	rec = doRequest(t, s, "GET", "/api/v1/health", "wrong", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 with wrong key, got %d", rec.Code)
	}

	rec = doRequest(t, s, "GET", "/api/v1/health", "secret", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid key, got %d", rec.Code)
	}
}

func TestListScripts(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/scripts", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Scripts []struct {
			Name string `json:"name"`
			Size int    `json:"size"`
		} `json:"scripts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Scripts) != 1 || resp.Scripts[0].Name != "spam-filter" {
		t.Errorf("Expected one script spam-filter, got %+v", resp.Scripts)
	}
}

func TestGetScript(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/scripts/spam-filter", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "X-Spam-Flag") {
		t.Errorf("Expected script source in response, got %s", rec.Body.String())
	}

	rec = doRequest(t, s, "GET", "/api/v1/scripts/unknown", "secret", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown script, got %d", rec.Code)
	}
}

func TestValidateScript(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "POST", "/api/v1/scripts/validate", "secret", `keep;`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Valid {
		t.Errorf("Expected valid script, got error %q", resp.Error)
	}

	rec = doRequest(t, s, "POST", "/api/v1/scripts/validate", "secret", `if {`)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Valid {
		t.Error("Expected invalid script to be rejected")
	}
	if resp.Error == "" {
		t.Error("Expected compiler diagnostic in response")
	}
}

func TestEvaluateScript(t *testing.T) {
	s := testServer(t)

	spam := "From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: offer\r\n" +
		"X-Spam-Flag: YES\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"Buy now\r\n"

	rec := doRequest(t, s, "POST",
		"/api/v1/scripts/spam-filter/evaluate?sender=sender@example.com&recipient=recipient@example.com",
		"secret", spam)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Action  string `json:"action"`
		Applied bool   `json:"applied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Action != "discard" {
		t.Errorf("Expected discard action, got %s", resp.Action)
	}
	if resp.Applied {
		t.Error("Expected dry run without apply=true")
	}

	rec = doRequest(t, s, "POST",
		"/api/v1/scripts/spam-filter/evaluate?recipient=recipient@example.com",
		"secret", spam)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without sender, got %d", rec.Code)
	}

	rec = doRequest(t, s, "POST",
		"/api/v1/scripts/unknown/evaluate?sender=a@example.com&recipient=b@example.com",
		"secret", spam)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown script, got %d", rec.Code)
	}
}

func TestConfigInfo(t *testing.T) {
	s := testServer(t)

	rec := doRequest(t, s, "GET", "/api/v1/config", "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp struct {
		Hostname string `json:"hostname"`
		FromAddr string `json:"from_addr"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Hostname != "mx1.example.com" {
		t.Errorf("Expected hostname mx1.example.com, got %s", resp.Hostname)
	}
	if resp.FromAddr != "MAILER-DAEMON@mx1.example.com" {
		t.Errorf("Expected default from address, got %s", resp.FromAddr)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	if _, err := New(&sieveengine.Core{}, nil, ServerOptions{Addr: "127.0.0.1:0"}); err == nil {
		t.Error("Expected error when API key is missing")
	}
}
