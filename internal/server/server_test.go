package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/3cpo-dev/lifelink/internal/core"
	"github.com/3cpo-dev/lifelink/internal/telemetry"
	"github.com/3cpo-dev/lifelink/pkg/api"
)

type fakeIncident struct {
	mu       sync.Mutex
	state    core.IncidentState
	watchers []chan core.IncidentState
	holds    int
	releases int
	cancels  int
}

func newFakeIncident() *fakeIncident {
	return &fakeIncident{state: core.IncidentState{
		Phase:     core.PhaseActive,
		Hospitals: []api.Hospital{{ID: "h1", Name: "St. John's"}, {ID: "h2", Name: "Manipal"}},
	}}
}

func (f *fakeIncident) State() core.IncidentState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.Clone()
}

func (f *fakeIncident) Watch() (<-chan core.IncidentState, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan core.IncidentState, 4)
	ch <- f.state.Clone()
	f.watchers = append(f.watchers, ch)
	return ch, func() {}
}

func (f *fakeIncident) publish(s core.IncidentState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
	for _, ch := range f.watchers {
		ch <- s.Clone()
	}
}

func (f *fakeIncident) StartHold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds++
}

func (f *fakeIncident) EndHold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeIncident) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeIncident) SelectHospital(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.state.Hospitals {
		if h.ID == id {
			sel := h
			f.state.SelectedHospital = &sel
			return nil
		}
	}
	return core.ErrUnknownHospital
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	h.ServeHTTP(rr, req)
	return rr
}

// TestState tests the state endpoint
func TestState(t *testing.T) {
	srv := &Server{Version: "test", Incident: newFakeIncident()}
	rr := do(t, srv.Handler(), http.MethodGet, "/v0/state", nil)
	if rr.Code != 200 {
		t.Fatalf("status %d", rr.Code)
	}
	var resp StateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Version != "test" || resp.State.Phase != core.PhaseActive {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCommandsRequirePost(t *testing.T) {
	srv := &Server{Incident: newFakeIncident()}
	for _, path := range []string{"/v0/hold/start", "/v0/hold/end", "/v0/cancel"} {
		if rr := do(t, srv.Handler(), http.MethodGet, path, nil); rr.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
	}
}

func TestGestureCommands(t *testing.T) {
	inc := newFakeIncident()
	h := (&Server{Incident: inc}).Handler()
	for _, path := range []string{"/v0/hold/start", "/v0/hold/end", "/v0/cancel", "/v0/cancel"} {
		if rr := do(t, h, http.MethodPost, path, nil); rr.Code != 200 {
			t.Fatalf("%s: status %d", path, rr.Code)
		}
	}
	if inc.holds != 1 || inc.releases != 1 || inc.cancels != 2 {
		t.Fatalf("holds=%d releases=%d cancels=%d", inc.holds, inc.releases, inc.cancels)
	}
}

func TestSelectHospital(t *testing.T) {
	inc := newFakeIncident()
	h := (&Server{Incident: inc}).Handler()

	rr := do(t, h, http.MethodPost, "/v0/hospital/select", []byte(`{"id":"h2"}`))
	if rr.Code != 200 {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var resp StateResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.State.SelectedHospital == nil || resp.State.SelectedHospital.ID != "h2" {
		t.Fatalf("selection not applied: %+v", resp.State.SelectedHospital)
	}

	if rr := do(t, h, http.MethodPost, "/v0/hospital/select", []byte(`{"id":"zz"}`)); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown hospital status %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v0/hospital/select", []byte(`{`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad body status %d", rr.Code)
	}
	if rr := do(t, h, http.MethodPost, "/v0/hospital/select", []byte(`{}`)); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing id status %d", rr.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	h := (&Server{Incident: newFakeIncident(), Token: "s3cret"}).Handler()
	if rr := do(t, h, http.MethodPost, "/v0/cancel", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v0/cancel", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
}

func TestStateRequiresToken(t *testing.T) {
	h := (&Server{Incident: newFakeIncident(), Token: "s3cret"}).Handler()
	if rr := do(t, h, http.MethodGet, "/v0/state", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v0/state", nil)
	req.Header.Set("X-Auth-Token", "s3cret")
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/v0/state", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}
}

func TestWebSocketAuth(t *testing.T) {
	srv := &Server{Incident: newFakeIncident(), Token: "s3cret", AllowedOrigins: []string{"https://app.lifelink.example/"}}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v0/ws"

	withToken := func(origin string) http.Header {
		h := http.Header{}
		h.Set("Authorization", "Bearer s3cret")
		if origin != "" {
			h.Set("Origin", origin)
		}
		return h
	}

	tests := []struct {
		name   string
		url    string
		header http.Header
		status int
	}{
		{"no token", wsURL, nil, http.StatusUnauthorized},
		{"wrong token", wsURL + "?access_token=nope", nil, http.StatusUnauthorized},
		{"foreign origin", wsURL, withToken("https://evil.example"), http.StatusForbidden},
		{"foreign origin without token", wsURL, http.Header{"Origin": {"https://evil.example"}}, http.StatusUnauthorized},
		{"token header", wsURL, withToken(""), http.StatusSwitchingProtocols},
		{"same origin", wsURL, withToken(ts.URL), http.StatusSwitchingProtocols},
		{"allowed origin", wsURL, withToken("https://app.lifelink.example"), http.StatusSwitchingProtocols},
		{"query token", wsURL + "?access_token=s3cret", nil, http.StatusSwitchingProtocols},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(tt.url, tt.header)
			if conn != nil {
				defer conn.Close()
			}
			if resp == nil {
				t.Fatalf("no handshake response: %v", err)
			}
			if resp.StatusCode != tt.status {
				t.Fatalf("status %d, want %d (err %v)", resp.StatusCode, tt.status, err)
			}
			if tt.status != http.StatusSwitchingProtocols {
				if err == nil {
					t.Fatalf("expected handshake failure")
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var first StateResponse
			if err := conn.ReadJSON(&first); err != nil {
				t.Fatalf("read: %v", err)
			}
		})
	}
}

func TestMonitorRoutesMounted(t *testing.T) {
	m := telemetry.NewMetrics("test")
	m.Activation("active")
	h := (&Server{Incident: newFakeIncident(), Monitor: telemetry.NewMonitor(m)}).Handler()

	if rr := do(t, h, http.MethodGet, "/health", nil); rr.Code != 200 {
		t.Fatalf("health status %d", rr.Code)
	}
	rr := do(t, h, http.MethodGet, "/metrics", nil)
	if rr.Code != 200 || !strings.Contains(rr.Body.String(), "test_activations_total") {
		t.Fatalf("metrics missing: %d %s", rr.Code, rr.Body.String())
	}
}

func TestWebSocketFeed(t *testing.T) {
	inc := newFakeIncident()
	ts := httptest.NewServer((&Server{Version: "test", Incident: inc}).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v0/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first StateResponse
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.State.Phase != core.PhaseActive {
		t.Fatalf("initial phase %s", first.State.Phase)
	}

	inc.publish(core.IncidentState{Phase: core.PhaseIdle})
	var next StateResponse
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read: %v", err)
	}
	if next.State.Phase != core.PhaseIdle {
		t.Fatalf("expected idle, got %s", next.State.Phase)
	}
}

func TestTLSConfigRequiresCertificate(t *testing.T) {
	t.Setenv("LIFELINK_TLS_CERT", "")
	t.Setenv("LIFELINK_TLS_KEY", "")
	c := LoadTLSConfig()
	if c.Enabled() {
		t.Fatalf("tls should be disabled without cert")
	}
	if err := (&Server{Incident: newFakeIncident()}).ListenAndServeTLS("127.0.0.1:0", c); err == nil {
		t.Fatalf("expected error without certificate")
	}
}
