package models

// PluginManifest mirrors plugin.json.
type PluginManifest struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Description  string             `json:"description,omitempty"`
	Author       string             `json:"author,omitempty"`
	Icon         string             `json:"icon,omitempty"`
	Main         string             `json:"main"`
	Renderer     string             `json:"renderer,omitempty"`
	Python       *PluginPython      `json:"python,omitempty"`
	Capabilities PluginCapabilities `json:"capabilities"`
}

type PluginPython struct {
	Script string `json:"script"`
	Entry  string `json:"entry,omitempty"`
}

type PluginCapabilities struct {
	DeviceRequired   bool     `json:"deviceRequired"`
	SupportedActions []string `json:"supportedActions"`
}

// PluginView is one entry of views.json.
type PluginView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Icon      string `json:"icon,omitempty"`
	Component string `json:"component"`
}

// LoadedPlugin is a validated manifest together with where it was loaded from.
type LoadedPlugin struct {
	Manifest PluginManifest `json:"manifest"`
	Path     string         `json:"path"`
	Views    []PluginView   `json:"views"`
}
