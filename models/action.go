package models

// Action types understood by the dispatcher.
const (
	ActionTap        = "tap"
	ActionSwipe      = "swipe"
	ActionInput      = "input"
	ActionKey        = "key"
	ActionOpenApp    = "open_app"
	ActionInstallAPK = "install_apk"
	ActionPushFile   = "push_file"
)

type ActionRequest struct {
	DeviceID string                 `json:"deviceId"`
	Type     string                 `json:"type"`
	Params   map[string]interface{} `json:"params"`
}

type ExecuteRequest struct {
	DeviceID string `json:"deviceId"`
	Command  string `json:"command"`
}

type ScriptRequest struct {
	ScriptPath string   `json:"scriptPath"`
	Args       []string `json:"args"`
}

type PluginLoadRequest struct {
	Path string `json:"path"`
}

type PluginExecuteRequest struct {
	Script string   `json:"script"`
	Args   []string `json:"args"`
}
