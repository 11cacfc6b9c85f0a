package api

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/configstore"
	"github.com/psaab/nicqos/pkg/hw"
	"github.com/psaab/nicqos/pkg/logging"
	"github.com/psaab/nicqos/pkg/profile"
)

const testConfig = `
gaming {
    active-profile balanced;
    profile lan-party {
        traffic-prioritization;
        latency-reduction;
        receive-descriptors 1024;
    }
}
`

type testEnv struct {
	srv     *httptest.Server
	adapter *adapter.Adapter
	store   *configstore.Store
	recent  *logging.RecentHandler
}

func newTestEnv(t *testing.T, auth *AuthConfig) *testEnv {
	t.Helper()
	a, err := adapter.New(adapter.Options{Name: "test0", Registers: hw.NewMem(hw.RegisterSpaceSize)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Init(profile.Balanced()); err != nil {
		t.Fatal(err)
	}
	store := configstore.New("")
	if err := store.LoadString(testConfig); err != nil {
		t.Fatal(err)
	}
	recent := logging.NewRecentHandler(slog.NewTextHandler(io.Discard, nil), 16)
	s := NewServer(Config{Adapter: a, Store: store, Recent: recent, Auth: auth})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{srv: ts, adapter: a, store: store, recent: recent}
}

// do sends a request and decodes the envelope, with Data left raw.
func (e *testEnv) do(t *testing.T, method, path, body string) (int, Response, json.RawMessage) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var env struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, env.Response, env.Data
}

func TestHealthAndStatus(t *testing.T) {
	e := newTestEnv(t, nil)
	if code, resp, _ := e.do(t, "GET", "/health", ""); code != 200 || !resp.Success {
		t.Errorf("health = %d %+v", code, resp)
	}

	code, _, data := e.do(t, "GET", "/api/v1/status", "")
	if code != 200 {
		t.Fatalf("status code = %d", code)
	}
	var st StatusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Name != "test0" || st.Profile != "balanced" || st.ActiveConfig != "balanced" || st.DataplaneLoaded {
		t.Errorf("status = %+v", st)
	}
}

func TestApplyProfileByName(t *testing.T) {
	e := newTestEnv(t, nil)
	code, resp, data := e.do(t, "PUT", "/api/v1/profile", `{"name": "lan-party"}`)
	if code != 200 {
		t.Fatalf("PUT profile = %d %s", code, resp.Error)
	}
	var res profile.Result
	json.Unmarshal(data, &res)
	if !res.NeedsRestart || res.Pending.RxDescriptors != 1024 {
		t.Errorf("result = %+v", res)
	}
	if got := e.adapter.ActiveProfile(); got.Name != "lan-party" || !got.LatencyReduction {
		t.Errorf("active = %+v", got)
	}
	if got := e.store.ActiveConfig().Gaming.ActiveProfile; got != "lan-party" {
		t.Errorf("store active profile = %q", got)
	}

	release := e.adapter.Hold()
	code, resp, _ = e.do(t, "POST", "/api/v1/restart", "")
	release()
	if code != http.StatusConflict || resp.Success {
		t.Errorf("restart while held = %d %+v", code, resp)
	}

	code, _, data = e.do(t, "POST", "/api/v1/restart", "")
	var rr adapter.RestartResult
	json.Unmarshal(data, &rr)
	if code != 200 || !rr.Resized || rr.Rings.RxDescriptors != 1024 {
		t.Errorf("restart = %d %+v", code, rr)
	}
}

func TestApplyProfileErrors(t *testing.T) {
	e := newTestEnv(t, nil)
	tests := []struct {
		body string
		code int
	}{
		{`{"name": "nope"}`, http.StatusNotFound},
		{`{}`, http.StatusBadRequest},
		{`{"name": "balanced", "profile": {"kind": "custom"}}`, http.StatusBadRequest},
		{`{"profile": {"kind": "custom", "interrupt_moderation": 101}}`, http.StatusBadRequest},
		{`{"bogus": 1}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		code, resp, _ := e.do(t, "PUT", "/api/v1/profile", tt.body)
		if code != tt.code || resp.Success {
			t.Errorf("PUT %s = %d %+v, want %d", tt.body, code, resp, tt.code)
		}
	}
	if e.adapter.ActiveProfile().Kind != profile.KindBalanced {
		t.Error("a rejected profile changed the active profile")
	}
}

func TestFeatureToggleAndRollback(t *testing.T) {
	e := newTestEnv(t, nil)
	code, resp, _ := e.do(t, "POST", "/api/v1/features/smart-power-management", `{"enable": false}`)
	if code != 200 {
		t.Fatalf("feature = %d %s", code, resp.Error)
	}
	p := e.adapter.ActiveProfile()
	if p.SmartPowerManagement || p.Kind != profile.KindCustom {
		t.Errorf("profile after toggle = %+v", p)
	}
	if code, _, _ := e.do(t, "POST", "/api/v1/features/turbo", `{"enable": true}`); code != http.StatusNotFound {
		t.Errorf("unknown feature = %d", code)
	}

	code, _, data := e.do(t, "GET", "/api/v1/profile/history", "")
	var hist []profile.HistoryEntry
	json.Unmarshal(data, &hist)
	if code != 200 || len(hist) == 0 {
		t.Fatalf("history = %d %v", code, hist)
	}

	if code, resp, _ := e.do(t, "POST", "/api/v1/profile/rollback", ""); code != 200 {
		t.Fatalf("rollback = %d %s", code, resp.Error)
	}
	if !e.adapter.ActiveProfile().SmartPowerManagement {
		t.Error("rollback did not restore the previous profile")
	}
	if code, _, _ := e.do(t, "POST", "/api/v1/profile/rollback", `{"n": 99}`); code != http.StatusNotFound {
		t.Errorf("rollback past history = %d", code)
	}
}

func TestClassifyAndStatistics(t *testing.T) {
	e := newTestEnv(t, nil)
	code, _, data := e.do(t, "GET", "/api/v1/classify?src=51000&dst=3074", "")
	var cr ClassifyResponse
	json.Unmarshal(data, &cr)
	if code != 200 || cr.Class != "game" || cr.Priority != "highest" || cr.DSCP != 46 {
		t.Errorf("classify = %d %+v", code, cr)
	}
	if code, _, _ := e.do(t, "GET", "/api/v1/classify?src=70000", ""); code != http.StatusBadRequest {
		t.Errorf("bad port = %d", code)
	}

	q := e.adapter.TxQueue()
	q.Post([]byte("frame"))
	q.Publish()
	e.adapter.ServiceTx()

	code, _, data = e.do(t, "GET", "/api/v1/statistics", "")
	var sr StatisticsResponse
	json.Unmarshal(data, &sr)
	if code != 200 || sr.Transmit.Packets != 1 || sr.Transmit.Bytes != 5 || sr.Classes["background"] != 1 {
		t.Errorf("statistics = %d %+v", code, sr)
	}
}

func TestRegistersAndLogs(t *testing.T) {
	e := newTestEnv(t, nil)
	code, _, data := e.do(t, "GET", "/api/v1/registers", "")
	var regs []hw.RegisterValue
	json.Unmarshal(data, &regs)
	if code != 200 || len(regs) != len(hw.RegisterNames) {
		t.Errorf("registers = %d, %d entries", code, len(regs))
	}

	slog.New(e.recent).Warn("link flapped", "iface", "eth0")
	slog.New(e.recent).Debug("noise")
	code, _, data = e.do(t, "GET", "/api/v1/logs?level=warn", "")
	var logs []LogEntry
	json.Unmarshal(data, &logs)
	if code != 200 || len(logs) != 1 || logs[0].Message != "link flapped" {
		t.Errorf("logs = %d %+v", code, logs)
	}
	if code, _, _ := e.do(t, "GET", "/api/v1/logs?n=-1", ""); code != http.StatusBadRequest {
		t.Errorf("bad n = %d", code)
	}
}

func TestMetrics(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, err := http.Get(e.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`nicqos_packets_total{direction="tx"} 0`,
		`nicqos_class_packets_total{class="game"} 0`,
		`nicqos_feature_enabled{feature="traffic-prioritization"} 1`,
		`nicqos_profile_generation{profile="balanced"}`,
		`nicqos_needs_restart 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestAuth(t *testing.T) {
	e := newTestEnv(t, &AuthConfig{APIKeys: []string{"k1"}})
	if code, _, _ := e.do(t, "GET", "/api/v1/status", ""); code != http.StatusUnauthorized {
		t.Errorf("no token = %d", code)
	}
	if code, _, _ := e.do(t, "GET", "/health", ""); code != 200 {
		t.Errorf("health with auth = %d", code)
	}

	for _, hdr := range []http.Header{
		{"X-Api-Key": []string{"k1"}},
		{"Authorization": []string{"Bearer k1"}},
	} {
		req, _ := http.NewRequest("GET", e.srv.URL+"/api/v1/status", nil)
		req.Header = hdr
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != 200 {
			t.Errorf("%v = %d", hdr, resp.StatusCode)
		}
	}
	if (AuthConfig{APIKeys: []string{"k1"}}).valid("k2") {
		t.Error("wrong key accepted")
	}
}

func TestStatsStream(t *testing.T) {
	e := newTestEnv(t, nil)
	resp, err := http.Get(e.srv.URL + "/api/v1/statistics/stream?interval=100ms&count=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	var events int
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var sr StatisticsResponse
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &sr); err != nil {
			t.Errorf("event data: %v", err)
		}
		events++
	}
	if events != 2 {
		t.Errorf("events = %d, want 2", events)
	}

	if code, _, _ := e.do(t, "GET", "/api/v1/statistics/stream?interval=1ms", ""); code != http.StatusBadRequest {
		t.Errorf("short interval = %d", code)
	}
}
