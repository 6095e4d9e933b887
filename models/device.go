package models

// DeviceState is the normalized adb connection state.
type DeviceState string

const (
	StateConnected    DeviceState = "connected"
	StateDisconnected DeviceState = "disconnected"
	StateOffline      DeviceState = "offline"
	StateUnauthorized DeviceState = "unauthorized"
)

// Unknown is the placeholder for device properties adb did not report.
const Unknown = "unknown"

// Device is one line of `adb devices -l`.
type Device struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	State       DeviceState `json:"state"`
	Product     string      `json:"product"`
	Model       string      `json:"model"`
	Device      string      `json:"device"`
	TransportID string      `json:"transportId"`
}

// DeviceDetails holds properties that need extra shell round trips to collect.
type DeviceDetails struct {
	ID             string `json:"id"`
	AndroidVersion string `json:"androidVersion"`
	Resolution     string `json:"resolution"`
	Battery        int    `json:"battery"` // -1 when unknown
}

// CloneDevices returns a copy of devices that shares no backing array.
func CloneDevices(devices []Device) []Device {
	out := make([]Device, len(devices))
	copy(out, devices)
	return out
}
