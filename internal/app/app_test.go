package app_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/paraguayconcierge/voicecore/internal/app"
	"github.com/paraguayconcierge/voicecore/internal/config"
	"github.com/paraguayconcierge/voicecore/pkg/device/fake"
	"github.com/paraguayconcierge/voicecore/pkg/transport/mock"
)

var errDeviceBusy = errors.New("device busy")

// testApp builds an App backed by a fake device host and a mock transport,
// plus an httptest server around its handler chain.
func testApp(t *testing.T) (*httptest.Server, *mock.Dialer, *fake.Host) {
	t.Helper()
	host := fake.NewHost()
	d := &mock.Dialer{Conn: mock.NewConn()}

	cfg := &config.Config{}
	cfg.Server.ListenAddr = ":0"
	cfg.Transport.Voice = "Zephyr"
	cfg.Session.DefaultLanguage = "Spanish"
	cfg.Session.Instructions = "You are the concierge."
	cfg.Session.StopTimeout = config.Duration(time.Second)

	a := app.New(cfg, d, host)
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		a.Manager().Stop()
	})
	return srv, d, host
}

func postJSON(t *testing.T, url, body string) (*http.Response, app.SessionInfo) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var info app.SessionInfo
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp, info
}

func getStatus(t *testing.T, base string) app.SessionInfo {
	t.Helper()
	resp, err := http.Get(base + "/v1/session/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint returned %d", resp.StatusCode)
	}
	var info app.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return info
}

func TestStart_ReturnsActiveSession(t *testing.T) {
	t.Parallel()
	srv, d, _ := testApp(t)

	resp, info := postJSON(t, srv.URL+"/v1/session/start", `{"language":"Guarani"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}
	if info.State != "active" {
		t.Errorf("state = %q, want active", info.State)
	}
	if info.Language != "Guarani" {
		t.Errorf("language = %q, want Guarani", info.Language)
	}
	if info.StartedAt.IsZero() {
		t.Error("started_at should be set for an active session")
	}

	if got := d.LastConfig().Language; got != "Guarani" {
		t.Errorf("dialed language = %q, want Guarani", got)
	}
	if got := d.LastConfig().Voice; got != "Zephyr" {
		t.Errorf("dialed voice = %q, want Zephyr", got)
	}
}

func TestStart_FallsBackToDefaultLanguage(t *testing.T) {
	t.Parallel()
	srv, d, _ := testApp(t)

	resp, info := postJSON(t, srv.URL+"/v1/session/start", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}
	if info.Language != "Spanish" {
		t.Errorf("language = %q, want configured default Spanish", info.Language)
	}
	if got := d.LastConfig().Language; got != "Spanish" {
		t.Errorf("dialed language = %q, want Spanish", got)
	}
}

func TestStart_SecondSessionConflicts(t *testing.T) {
	t.Parallel()
	srv, _, _ := testApp(t)

	if resp, _ := postJSON(t, srv.URL+"/v1/session/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("first start returned %d", resp.StatusCode)
	}
	resp, _ := postJSON(t, srv.URL+"/v1/session/start", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start returned %d, want 409", resp.StatusCode)
	}
}

func TestStart_DeviceUnavailable(t *testing.T) {
	t.Parallel()
	host := fake.NewHost()
	host.InputErr = errDeviceBusy
	d := &mock.Dialer{Conn: mock.NewConn()}

	cfg := &config.Config{}
	cfg.Session.DefaultLanguage = "Spanish"
	a := app.New(cfg, d, host)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, _ := postJSON(t, srv.URL+"/v1/session/start", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("start returned %d, want 503", resp.StatusCode)
	}

	// The failure must be visible on the status endpoint.
	if info := getStatus(t, srv.URL); info.State != "error" || info.Error == "" {
		t.Errorf("status after failed start = %+v, want error state with message", info)
	}
}

func TestStart_BadBodyRejected(t *testing.T) {
	t.Parallel()
	srv, _, _ := testApp(t)

	resp, _ := postJSON(t, srv.URL+"/v1/session/start", `{"language":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("start returned %d, want 400", resp.StatusCode)
	}
}

func TestStop_IsIdempotent(t *testing.T) {
	t.Parallel()
	srv, _, host := testApp(t)

	// Stop with no session running is fine.
	resp, info := postJSON(t, srv.URL+"/v1/session/stop", "")
	if resp.StatusCode != http.StatusOK || info.State != "idle" {
		t.Fatalf("stop on idle: status %d, state %q", resp.StatusCode, info.State)
	}

	if resp, _ := postJSON(t, srv.URL+"/v1/session/start", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("start returned %d", resp.StatusCode)
	}

	for range 3 {
		resp, info = postJSON(t, srv.URL+"/v1/session/stop", "")
		if resp.StatusCode != http.StatusOK || info.State != "idle" {
			t.Fatalf("stop: status %d, state %q", resp.StatusCode, info.State)
		}
	}

	if host.Released() != host.Acquired() {
		t.Errorf("released %d of %d acquired device handles", host.Released(), host.Acquired())
	}
}

func TestStatus_TracksLifecycle(t *testing.T) {
	t.Parallel()
	srv, _, _ := testApp(t)

	if info := getStatus(t, srv.URL); info.State != "idle" {
		t.Fatalf("initial state = %q, want idle", info.State)
	}

	postJSON(t, srv.URL+"/v1/session/start", "")
	if info := getStatus(t, srv.URL); info.State != "active" {
		t.Fatalf("state after start = %q, want active", info.State)
	}

	postJSON(t, srv.URL+"/v1/session/stop", "")
	if info := getStatus(t, srv.URL); info.State != "idle" {
		t.Fatalf("state after stop = %q, want idle", info.State)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()
	srv, _, _ := testApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s returned %d, want 200", path, resp.StatusCode)
		}
	}
}
