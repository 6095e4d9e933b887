package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"adbdesk/models"
	"adbdesk/plugin"
	"adbdesk/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

type fakeDevices struct {
	devices []models.Device
	err     error
}

func (f *fakeDevices) GetDevices(context.Context) ([]models.Device, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.devices, nil
}

func (f *fakeDevices) GetCachedDevices() []models.Device { return f.devices }

func (f *fakeDevices) GetDeviceInfo(_ context.Context, id string) (models.Device, error) {
	for _, d := range f.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return models.Device{}, errors.Wrapf(service.ErrDeviceNotFound, "device %s", id)
}

type fakeExecutor struct {
	mu    sync.Mutex
	calls []models.ExecuteRequest
}

func (f *fakeExecutor) Execute(_ context.Context, deviceID, command string) models.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, models.ExecuteRequest{DeviceID: deviceID, Command: command})
	return models.CommandResult{Success: true, Stdout: "ran " + command}
}

type fakeActions struct{ err error }

func (f *fakeActions) Dispatch(context.Context, models.ActionRequest) (models.CommandResult, error) {
	return models.CommandResult{Success: f.err == nil}, f.err
}

type fakeScripts struct{}

func (fakeScripts) RunScript(_ context.Context, path string, _ []string) models.ScriptResult {
	return models.ScriptResult{CommandResult: models.CommandResult{Success: true, Stdout: path}, ProcessID: "p1"}
}
func (fakeScripts) InFlight() []string { return []string{} }
func (fakeScripts) TerminateProcess(string) bool { return false }
func (fakeScripts) Interpreter() string { return "python3" }
func (fakeScripts) Version(context.Context) (string, error) { return "Python 3.12.1", nil }

type fakePlugins struct{ loadErr error }

func (fakePlugins) Plugins() []models.LoadedPlugin { return []models.LoadedPlugin{} }
func (fakePlugins) Plugin(string) (models.LoadedPlugin, bool) {
	return models.LoadedPlugin{}, false
}
func (f fakePlugins) LoadPlugin(string) (models.LoadedPlugin, error) {
	return models.LoadedPlugin{}, f.loadErr
}
func (fakePlugins) ScanAndLoad() []models.LoadedPlugin { return []models.LoadedPlugin{} }
func (fakePlugins) UnloadPlugin(string) bool { return false }
func (fakePlugins) ExecuteScript(_ context.Context, id, _ string, _ []string) (models.ScriptResult, error) {
	return models.ScriptResult{}, errors.Wrapf(plugin.ErrPluginNotFound, "%s", id)
}

func connected(id string) models.Device {
	return models.Device{ID: id, Name: id, State: models.StateConnected, Product: "unknown", Model: "unknown", Device: "unknown", TransportID: "1"}
}

type testServer struct {
	router   *gin.Engine
	devices  *fakeDevices
	executor *fakeExecutor
	actions  *fakeActions
}

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func TestNewEngineKeepsGinMode(t *testing.T) {
	prev := gin.Mode()
	t.Cleanup(func() { gin.SetMode(prev) })

	gin.SetMode(gin.TestMode)
	NewEngine()
	if got := gin.Mode(); got != gin.TestMode {
		t.Errorf("gin mode = %q after NewEngine, want %q", got, gin.TestMode)
	}
}

func newTestServer(opts RouteOptions) *testServer {
	ts := &testServer{
		devices:  &fakeDevices{devices: []models.Device{connected("emulator-5554")}},
		executor: &fakeExecutor{},
		actions:  &fakeActions{},
	}
	h := &Handlers{
		Devices:  ts.devices,
		Commands: ts.executor,
		Actions:  ts.actions,
		Scripts:  fakeScripts{},
		Plugins:  fakePlugins{loadErr: &plugin.ValidationError{Field: "id", Reason: "is required"}},
	}
	ts.router = NewEngine()
	SetupRoutes(ts.router, h, nil, opts)
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestPreflight(t *testing.T) {
	ts := newTestServer(RouteOptions{})
	for _, path := range []string{"/api/devices", "/api/execute", "/does/not/exist"} {
		w := ts.do(http.MethodOptions, path, "")
		if w.Code != http.StatusNoContent {
			t.Errorf("OPTIONS %s = %d, want 204", path, w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("OPTIONS %s: allow-origin = %q", path, got)
		}
		if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
			t.Errorf("OPTIONS %s: allow-methods = %q", path, got)
		}
		if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type" {
			t.Errorf("OPTIONS %s: allow-headers = %q", path, got)
		}
	}
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(RouteOptions{})
	tests := []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodPut, "/api/devices"},
		{http.MethodGet, "/api/execute"},
	}
	for _, tt := range tests {
		w := ts.do(tt.method, tt.path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tt.method, tt.path, w.Code)
			continue
		}
		if body := strings.TrimSpace(w.Body.String()); body != `{"error":"Not found"}` {
			t.Errorf("%s %s body = %s", tt.method, tt.path, body)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("%s %s: CORS headers missing on 404", tt.method, tt.path)
		}
	}
}

func TestGetDevices(t *testing.T) {
	ts := newTestServer(RouteOptions{})

	w := ts.do(http.MethodGet, "/api/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	data, _ := body["data"].([]any)
	if body["success"] != true || len(data) != 1 {
		t.Fatalf("unexpected body: %v", body)
	}
	device := data[0].(map[string]any)
	if device["id"] != "emulator-5554" || device["state"] != "connected" || device["transportId"] != "1" {
		t.Errorf("unexpected device: %v", device)
	}

	ts.devices.err = errors.New("adb not found")
	w = ts.do(http.MethodGet, "/api/devices", "")
	if w.Code != http.StatusOK {
		t.Fatalf("fetch failure must still be 200, got %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"success":true,"data":[]}` {
		t.Errorf("body = %s", got)
	}
}

func TestGetDevice(t *testing.T) {
	ts := newTestServer(RouteOptions{})
	if w := ts.do(http.MethodGet, "/api/devices/emulator-5554", ""); w.Code != http.StatusOK {
		t.Errorf("known device = %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/devices/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown device = %d", w.Code)
	}
	if w := ts.do(http.MethodGet, "/api/devices/cached", ""); w.Code != http.StatusOK {
		t.Errorf("cached = %d", w.Code)
	}
}

func TestExecute(t *testing.T) {
	ts := newTestServer(RouteOptions{})

	w := ts.do(http.MethodPost, "/api/execute", `{"deviceId":"emulator-5554","command":"shell ls"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	if body["success"] != true || body["stdout"] != "ran shell ls" || body["exitCode"] != float64(0) {
		t.Errorf("unexpected body: %v", body)
	}
	if _, wrapped := body["data"]; wrapped {
		t.Error("execute result must not be wrapped in the envelope")
	}
	if len(ts.executor.calls) != 1 || ts.executor.calls[0].DeviceID != "emulator-5554" {
		t.Errorf("executor calls = %+v", ts.executor.calls)
	}
}

func TestExecuteMalformedBody(t *testing.T) {
	ts := newTestServer(RouteOptions{})
	for _, body := range []string{`{"deviceId":`, "", `not json`, `null`, `[]`, `"shell ls"`} {
		w := ts.do(http.MethodPost, "/api/execute", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
			continue
		}
		got := decode(t, w)
		if got["success"] != false || got["error"] == "" || got["error"] == nil {
			t.Errorf("body %q: unexpected response %v", body, got)
		}
	}
	if len(ts.executor.calls) != 0 {
		t.Errorf("malformed requests reached the executor: %+v", ts.executor.calls)
	}
}

func TestExecuteEmptyObjectRunsEmptyCommand(t *testing.T) {
	ts := newTestServer(RouteOptions{})
	if w := ts.do(http.MethodPost, "/api/execute", `{}`); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(ts.executor.calls) != 1 || ts.executor.calls[0].Command != "" {
		t.Errorf("executor calls = %+v", ts.executor.calls)
	}
}

func TestDispatchActionStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{errors.Wrap(service.ErrDeviceNotFound, "x"), http.StatusNotFound},
		{errors.Wrap(service.ErrDeviceNotConnected, "x"), http.StatusConflict},
		{errors.Wrap(service.ErrInvalidParams, "x"), http.StatusBadRequest},
		{errors.Wrap(service.ErrUnknownAction, "x"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		ts := newTestServer(RouteOptions{})
		ts.actions.err = tt.err
		w := ts.do(http.MethodPost, "/api/actions", `{"deviceId":"emulator-5554","type":"tap","params":{"x":1,"y":2}}`)
		if w.Code != tt.want {
			t.Errorf("err %v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestSupplementRoutes(t *testing.T) {
	ts := newTestServer(RouteOptions{})
	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/api/python", "", http.StatusOK},
		{http.MethodGet, "/api/scripts", "", http.StatusOK},
		{http.MethodPost, "/api/scripts/run", `{"scriptPath":"a.py"}`, http.StatusOK},
		{http.MethodPost, "/api/scripts/run", `{"args":[]}`, http.StatusBadRequest},
		{http.MethodPost, "/api/scripts/abc/terminate", "", http.StatusNotFound},
		{http.MethodGet, "/api/plugins", "", http.StatusOK},
		{http.MethodGet, "/api/plugins/missing", "", http.StatusNotFound},
		{http.MethodPost, "/api/plugins/load", `{"path":"/tmp/x"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/plugins/scan", "", http.StatusOK},
		{http.MethodPost, "/api/plugins/missing/unload", "", http.StatusNotFound},
		{http.MethodPost, "/api/plugins/missing/execute", `{"script":"a.py"}`, http.StatusNotFound},
		{http.MethodGet, "/api/history", "", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if w := ts.do(tt.method, tt.path, tt.body); w.Code != tt.want {
			t.Errorf("%s %s = %d, want %d (%s)", tt.method, tt.path, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(RouteOptions{RateLimit: 0.001, RateBurst: 1})
	body := `{"deviceId":"","command":"devices"}`
	if w := ts.do(http.MethodPost, "/api/execute", body); w.Code != http.StatusOK {
		t.Fatalf("first request = %d", w.Code)
	}
	if w := ts.do(http.MethodPost, "/api/execute", body); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request = %d, want 429", w.Code)
	}
	// Reads are never limited.
	if w := ts.do(http.MethodGet, "/api/devices", ""); w.Code != http.StatusOK {
		t.Errorf("GET limited: %d", w.Code)
	}
}

func TestWebSocketPushesDevices(t *testing.T) {
	devices := &fakeDevices{devices: []models.Device{connected("a")}}
	hub := NewWebSocketHub(devices)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := NewEngine()
	SetupRoutes(router, &Handlers{Devices: devices}, hub, RouteOptions{})
	server := httptest.NewServer(router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if msg := read(); msg.Type != MessageDevices || len(msg.Data.([]any)) != 1 {
		t.Fatalf("expected initial snapshot, got %+v", msg)
	}

	hub.BroadcastDevices([]models.Device{connected("a"), connected("b")})
	if msg := read(); msg.Type != MessageDevices || len(msg.Data.([]any)) != 2 {
		t.Fatalf("expected broadcast, got %+v", msg)
	}

	if err := conn.WriteJSON(Message{Type: MessageRefresh}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := read(); msg.Type != MessageDevices || len(msg.Data.([]any)) != 1 {
		t.Fatalf("expected refreshed snapshot, got %+v", msg)
	}
}
