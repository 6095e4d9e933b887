// Package plugin loads plugin manifests from a directory tree and keeps them
// in an in-memory catalog keyed by plugin id.
package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"adbdesk/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	ManifestFile = "plugin.json"
	ViewsFile    = "views.json"
	PythonDir    = "python"
)

var (
	ErrManifestNotFound = errors.New("plugin manifest not found")
	ErrPluginNotFound   = errors.New("plugin not found")
	ErrNoPython         = errors.New("plugin has no python scripts")
	ErrInvalidScript    = errors.New("invalid plugin script path")
)

// ScriptRunner runs a plugin's python script. *script.Runner implements it.
type ScriptRunner interface {
	RunScript(ctx context.Context, scriptPath string, args []string) models.ScriptResult
}

// Catalog holds the loaded plugins. Plugins are registered by id; loading a
// second plugin with the same id replaces the first.
type Catalog struct {
	runner ScriptRunner

	mu      sync.RWMutex
	root    string
	plugins map[string]models.LoadedPlugin
}

// NewCatalog creates a catalog rooted at root, creating the directory if needed.
// An empty root means ./plugins.
func NewCatalog(root string, runner ScriptRunner) (*Catalog, error) {
	c := &Catalog{
		runner:  runner,
		plugins: make(map[string]models.LoadedPlugin),
	}
	if err := c.SetRoot(root); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Root() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.root
}

// SetRoot switches the plugins directory. Already loaded plugins stay loaded.
func (c *Catalog) SetRoot(root string) error {
	if root == "" {
		root = "plugins"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return errors.Wrap(err, "resolve plugins dir")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return errors.Wrapf(err, "create plugins dir %s", abs)
	}

	c.mu.Lock()
	c.root = abs
	c.mu.Unlock()
	return nil
}

// LoadPlugin reads, validates and registers the plugin in dir.
func (c *Catalog) LoadPlugin(dir string) (models.LoadedPlugin, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return models.LoadedPlugin{}, errors.Wrap(err, "resolve plugin path")
	}

	manifestPath := filepath.Join(abs, ManifestFile)
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return models.LoadedPlugin{}, errors.Wrapf(ErrManifestNotFound, "%s", manifestPath)
		}
		return models.LoadedPlugin{}, errors.Wrapf(err, "read %s", manifestPath)
	}

	manifest, err := ParseManifest(raw)
	if err != nil {
		return models.LoadedPlugin{}, errors.Wrapf(err, "%s", manifestPath)
	}

	views, err := loadViews(abs)
	if err != nil {
		return models.LoadedPlugin{}, err
	}

	loaded := models.LoadedPlugin{Manifest: manifest, Path: abs, Views: views}
	c.mu.Lock()
	c.plugins[manifest.ID] = loaded
	c.mu.Unlock()

	log.Info().
		Str("module", "plugin").
		Str("id", manifest.ID).
		Str("version", manifest.Version).
		Msgf("plugin loaded: %s", manifest.Name)
	return loaded, nil
}

func loadViews(dir string) ([]models.PluginView, error) {
	path := filepath.Join(dir, ViewsFile)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []models.PluginView{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	views := []models.PluginView{}
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return views, nil
}

// ScanAndLoad loads every subdirectory of the root. A plugin that fails to
// load is logged and skipped.
func (c *Catalog) ScanAndLoad() []models.LoadedPlugin {
	root := c.Root()
	loaded := []models.LoadedPlugin{}

	entries, err := os.ReadDir(root)
	if err != nil {
		log.Error().Str("module", "plugin").Str("root", root).Err(err).Msg("scan plugins dir")
		return loaded
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := c.LoadPlugin(filepath.Join(root, entry.Name()))
		if err != nil {
			log.Error().Str("module", "plugin").Str("dir", entry.Name()).Err(err).Msg("failed to load plugin")
			continue
		}
		loaded = append(loaded, p)
	}
	return loaded
}

// Reload rescans the root and drops plugins that were loaded from it but no
// longer load. Plugins loaded from elsewhere are kept.
func (c *Catalog) Reload() []models.LoadedPlugin {
	loaded := c.ScanAndLoad()
	keep := make(map[string]bool, len(loaded))
	for _, p := range loaded {
		keep[p.Manifest.ID] = true
	}

	c.mu.Lock()
	for id, p := range c.plugins {
		if filepath.Dir(p.Path) == c.root && !keep[id] {
			delete(c.plugins, id)
			log.Info().Str("module", "plugin").Str("id", id).Msg("plugin dropped on reload")
		}
	}
	c.mu.Unlock()
	return loaded
}

// UnloadPlugin removes a plugin from the catalog. Nothing on disk changes.
func (c *Catalog) UnloadPlugin(id string) bool {
	c.mu.Lock()
	p, ok := c.plugins[id]
	delete(c.plugins, id)
	c.mu.Unlock()
	if ok {
		log.Info().Str("module", "plugin").Str("id", id).Msgf("plugin unloaded: %s", p.Manifest.Name)
	}
	return ok
}

// Plugins returns the loaded plugins sorted by id.
func (c *Catalog) Plugins() []models.LoadedPlugin {
	c.mu.RLock()
	out := make([]models.LoadedPlugin, 0, len(c.plugins))
	for _, p := range c.plugins {
		out = append(out, p)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Manifest.ID < out[j].Manifest.ID })
	return out
}

func (c *Catalog) Plugin(id string) (models.LoadedPlugin, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plugins[id]
	return p, ok
}

// ExecuteScript runs <plugin>/python/<script> through the script runner.
func (c *Catalog) ExecuteScript(ctx context.Context, id, script string, args []string) (models.ScriptResult, error) {
	p, ok := c.Plugin(id)
	if !ok {
		return models.ScriptResult{}, errors.Wrapf(ErrPluginNotFound, "%s", id)
	}
	if p.Manifest.Python == nil {
		return models.ScriptResult{}, errors.Wrapf(ErrNoPython, "%s", id)
	}

	pythonDir := filepath.Join(p.Path, PythonDir)
	scriptPath := filepath.Join(pythonDir, script)
	rel, err := filepath.Rel(pythonDir, scriptPath)
	if script == "" || err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return models.ScriptResult{}, errors.Wrapf(ErrInvalidScript, "%q", script)
	}

	log.Info().Str("module", "plugin").Str("id", id).Str("script", rel).Msg("executing plugin script")
	return c.runner.RunScript(ctx, scriptPath, args), nil
}
