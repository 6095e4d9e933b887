package plugin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"adbdesk/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrPluginExists = errors.New("plugin already exists")

type TemplateOptions struct {
	WithPython bool
}

// TemplateID derives a plugin id from a display name: lower case, whitespace
// runs replaced by a dash.
func TemplateID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

// CreateTemplate scaffolds a new plugin directory under the root and returns its path.
// The plugin is not loaded.
func (c *Catalog) CreateTemplate(name string, opts TemplateOptions) (string, error) {
	id := TemplateID(name)
	if !idPattern.MatchString(id) {
		return "", &ValidationError{Field: "id", Reason: "\"" + id + "\" has an invalid format"}
	}

	dir := filepath.Join(c.Root(), id)
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err == nil {
		return "", errors.Wrapf(ErrPluginExists, "%s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create %s", dir)
	}

	manifest := models.PluginManifest{
		ID:      id,
		Name:    name,
		Version: "1.0.0",
		Main:    "dist/index.js",
		Capabilities: models.PluginCapabilities{
			DeviceRequired:   false,
			SupportedActions: []string{},
		},
	}
	if opts.WithPython {
		manifest.Python = &models.PluginPython{Script: PythonDir + "/" + id + ".py"}
	}
	views := []models.PluginView{{
		ID:        id + "-main",
		Title:     name,
		Component: id + "Main",
	}}

	if err := writeJSON(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, ViewsFile), views); err != nil {
		return "", err
	}
	if opts.WithPython {
		if err := os.MkdirAll(filepath.Join(dir, PythonDir), 0o755); err != nil {
			return "", errors.Wrap(err, "create python dir")
		}
		stub := filepath.Join(dir, manifest.Python.Script)
		if err := os.WriteFile(stub, []byte(pythonStub), 0o644); err != nil {
			return "", errors.Wrapf(err, "write %s", stub)
		}
	}

	log.Info().Str("module", "plugin").Str("path", dir).Msg("plugin template created")
	return dir, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

const pythonStub = `import json
import sys


def main():
    print(json.dumps({"args": sys.argv[1:]}))


if __name__ == "__main__":
    main()
`
