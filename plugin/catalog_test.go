package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"adbdesk/models"

	"github.com/pkg/errors"
)

type fakeRunner struct {
	mu    sync.Mutex
	paths []string
}

func (r *fakeRunner) RunScript(_ context.Context, scriptPath string, args []string) models.ScriptResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, scriptPath)
	return models.ScriptResult{CommandResult: models.CommandResult{Success: true, Stdout: "ok"}, ProcessID: "p1"}
}

func writePlugin(t *testing.T, root, dir, manifest string) string {
	t.Helper()
	path := filepath.Join(root, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(path, ManifestFile), []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func manifestJSON(id string) string {
	return `{"id":"` + id + `","name":"` + id + `","version":"1.0.0","main":"dist/index.js","capabilities":{"deviceRequired":false,"supportedActions":[]}}`
}

func newTestCatalog(t *testing.T) (*Catalog, *fakeRunner) {
	t.Helper()
	runner := &fakeRunner{}
	catalog, err := NewCatalog(filepath.Join(t.TempDir(), "plugins"), runner)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return catalog, runner
}

func TestNewCatalogCreatesRoot(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	if info, err := os.Stat(catalog.Root()); err != nil || !info.IsDir() {
		t.Fatalf("root not created: %v", err)
	}
}

func TestScanAndLoadSkipsBadPlugins(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	root := catalog.Root()

	writePlugin(t, root, "alpha", manifestJSON("alpha"))
	writePlugin(t, root, "beta", manifestJSON("beta"))
	writePlugin(t, root, "no-manifest", "")
	writePlugin(t, root, "bad-id", manifestJSON("9lives"))
	writePlugin(t, root, "missing-caps", `{"id":"x","name":"x","version":"1","main":"m"}`)
	if err := os.WriteFile(filepath.Join(root, "README.md"), []byte("not a plugin"), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := catalog.ScanAndLoad()
	if len(loaded) != 2 {
		t.Fatalf("loaded %d plugins, want 2: %+v", len(loaded), loaded)
	}
	plugins := catalog.Plugins()
	if len(plugins) != 2 || plugins[0].Manifest.ID != "alpha" || plugins[1].Manifest.ID != "beta" {
		t.Errorf("unexpected catalog: %+v", plugins)
	}
}

func TestLoadPluginErrors(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	root := catalog.Root()

	_, err := catalog.LoadPlugin(writePlugin(t, root, "empty", ""))
	if !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}

	_, err = catalog.LoadPlugin(writePlugin(t, root, "caps", `{"id":"x","name":"x","version":"1","main":"m"}`))
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "capabilities" {
		t.Errorf("expected capabilities validation error, got %v", err)
	}

	dir := writePlugin(t, root, "views", manifestJSON("views"))
	if err := os.WriteFile(filepath.Join(dir, ViewsFile), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := catalog.LoadPlugin(dir); err == nil {
		t.Error("malformed views file should fail the load")
	}
	if len(catalog.Plugins()) != 0 {
		t.Errorf("failed loads must not register anything: %+v", catalog.Plugins())
	}
}

func TestLoadPluginViewsAndReplace(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	dir := writePlugin(t, catalog.Root(), "alpha", manifestJSON("alpha"))
	views := `[{"id":"alpha-main","title":"Alpha","component":"AlphaMain"}]`
	if err := os.WriteFile(filepath.Join(dir, ViewsFile), []byte(views), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := catalog.LoadPlugin(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Views) != 1 || p.Views[0].Component != "AlphaMain" {
		t.Errorf("views not loaded: %+v", p.Views)
	}

	// A second directory with the same id replaces the first.
	other := writePlugin(t, t.TempDir(), "elsewhere", manifestJSON("alpha"))
	if _, err := catalog.LoadPlugin(other); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := catalog.Plugin("alpha")
	if !ok || got.Path != other || len(got.Views) != 0 {
		t.Errorf("plugin not replaced: %+v", got)
	}
	if len(catalog.Plugins()) != 1 {
		t.Errorf("duplicate ids registered: %+v", catalog.Plugins())
	}
}

func TestUnloadPlugin(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	writePlugin(t, catalog.Root(), "alpha", manifestJSON("alpha"))
	catalog.ScanAndLoad()

	if !catalog.UnloadPlugin("alpha") {
		t.Fatal("unload of a loaded plugin failed")
	}
	if catalog.UnloadPlugin("alpha") {
		t.Error("second unload reported success")
	}
	if _, ok := catalog.Plugin("alpha"); ok {
		t.Error("plugin still registered")
	}
	if _, err := os.Stat(filepath.Join(catalog.Root(), "alpha", ManifestFile)); err != nil {
		t.Errorf("unload touched the disk: %v", err)
	}
}

func TestReloadDropsRemovedPlugins(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	root := catalog.Root()
	writePlugin(t, root, "alpha", manifestJSON("alpha"))
	beta := writePlugin(t, root, "beta", manifestJSON("beta"))
	external := writePlugin(t, t.TempDir(), "gamma", manifestJSON("gamma"))

	catalog.ScanAndLoad()
	if _, err := catalog.LoadPlugin(external); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(beta); err != nil {
		t.Fatal(err)
	}
	catalog.Reload()

	if _, ok := catalog.Plugin("beta"); ok {
		t.Error("removed plugin still loaded")
	}
	if _, ok := catalog.Plugin("alpha"); !ok {
		t.Error("alpha dropped")
	}
	if _, ok := catalog.Plugin("gamma"); !ok {
		t.Error("plugin loaded from outside the root was dropped")
	}
}

func TestExecuteScript(t *testing.T) {
	catalog, runner := newTestCatalog(t)
	root := catalog.Root()
	writePlugin(t, root, "py", `{"id":"py","name":"py","version":"1","main":"m","python":{"script":"python/run.py"},"capabilities":{"deviceRequired":false}}`)
	writePlugin(t, root, "nopy", manifestJSON("nopy"))
	catalog.ScanAndLoad()
	ctx := context.Background()

	result, err := catalog.ExecuteScript(ctx, "py", "run.py", []string{"a"})
	if err != nil || !result.Success {
		t.Fatalf("execute: %+v, %v", result, err)
	}
	want := filepath.Join(root, "py", PythonDir, "run.py")
	if len(runner.paths) != 1 || runner.paths[0] != want {
		t.Errorf("runner got %v, want %s", runner.paths, want)
	}

	if _, err := catalog.ExecuteScript(ctx, "missing", "run.py", nil); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("expected ErrPluginNotFound, got %v", err)
	}
	if _, err := catalog.ExecuteScript(ctx, "nopy", "run.py", nil); !errors.Is(err, ErrNoPython) {
		t.Errorf("expected ErrNoPython, got %v", err)
	}
	for _, bad := range []string{"../../escape.py", "..", ""} {
		if _, err := catalog.ExecuteScript(ctx, "py", bad, nil); !errors.Is(err, ErrInvalidScript) {
			t.Errorf("%q: expected ErrInvalidScript, got %v", bad, err)
		}
	}
	if len(runner.paths) != 1 {
		t.Errorf("rejected scripts reached the runner: %v", runner.paths)
	}
}

func TestCreateTemplate(t *testing.T) {
	catalog, _ := newTestCatalog(t)

	dir, err := catalog.CreateTemplate("Screen Capture", TemplateOptions{WithPython: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if dir != filepath.Join(catalog.Root(), "screen-capture") {
		t.Errorf("unexpected dir %s", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, PythonDir, "screen-capture.py")); err != nil {
		t.Errorf("python stub missing: %v", err)
	}

	p, err := catalog.LoadPlugin(dir)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if p.Manifest.Name != "Screen Capture" || p.Manifest.Python == nil || len(p.Views) != 1 {
		t.Errorf("unexpected plugin: %+v", p)
	}

	if _, err := catalog.CreateTemplate("Screen Capture", TemplateOptions{}); !errors.Is(err, ErrPluginExists) {
		t.Errorf("expected ErrPluginExists, got %v", err)
	}
	if _, err := catalog.CreateTemplate("3d viewer", TemplateOptions{}); err == nil {
		t.Error("invalid id accepted")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	catalog, _ := newTestCatalog(t)
	watcher := newWatcher(catalog, 20*time.Millisecond)
	reloaded := make(chan []models.LoadedPlugin, 8)
	watcher.OnReload = func(loaded []models.LoadedPlugin) { reloaded <- loaded }

	if err := watcher.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer watcher.Stop()

	// Build the plugin outside the root and move it in so it appears at once.
	staged := writePlugin(t, t.TempDir(), "alpha", manifestJSON("alpha"))
	if err := os.Rename(staged, filepath.Join(catalog.Root(), "alpha")); err != nil {
		t.Skipf("cannot rename across temp dirs: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-reloaded:
			if _, ok := catalog.Plugin("alpha"); ok {
				return
			}
		case <-deadline:
			t.Fatal("watcher never loaded the new plugin")
		}
	}
}
