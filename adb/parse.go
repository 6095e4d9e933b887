package adb

import (
	"strconv"
	"strings"

	"adbdesk/models"
)

// DevicesHeader is the first line adb prints for `adb devices`.
const DevicesHeader = "List of devices attached"

var deviceStates = map[string]models.DeviceState{
	"device":       models.StateConnected,
	"offline":      models.StateOffline,
	"unauthorized": models.StateUnauthorized,
}

// ParseState maps a raw adb state token. Unknown tokens (bootloader, recovery,
// sideload, ...) are treated as disconnected.
func ParseState(raw string) models.DeviceState {
	if state, ok := deviceStates[raw]; ok {
		return state
	}
	return models.StateDisconnected
}

// ParseDeviceList parses the output of `adb devices -l`.
// The first line is always dropped as the header. Malformed lines are skipped.
func ParseDeviceList(output string) []models.Device {
	devices := []models.Device{}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return devices
	}

	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// <serial> <state> [key:value ...]
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		props := make(map[string]string, len(parts)-2)
		for _, part := range parts[2:] {
			key, value, ok := strings.Cut(part, ":")
			if !ok {
				continue
			}
			props[key] = value
		}

		devices = append(devices, models.Device{
			ID:          parts[0],
			Name:        firstNonEmpty(props["product"], props["model"], parts[0]),
			State:       ParseState(parts[1]),
			Product:     firstNonEmpty(props["product"], models.Unknown),
			Model:       firstNonEmpty(props["model"], models.Unknown),
			Device:      firstNonEmpty(props["device"], models.Unknown),
			TransportID: firstNonEmpty(props["transport_id"], "0"),
		})
	}

	return devices
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseScreenSize reads `wm size` output.
// Override size wins over physical size because it is what is actually displayed.
func parseScreenSize(output string) string {
	var physicalSize, overrideSize string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "Physical size:"); ok {
			physicalSize = strings.TrimSpace(v)
		}
		if v, ok := strings.CutPrefix(line, "Override size:"); ok {
			overrideSize = strings.TrimSpace(v)
		}
	}
	if overrideSize != "" {
		return overrideSize
	}
	if physicalSize != "" {
		return physicalSize
	}
	return models.Unknown
}

// parseBatteryLevel reads the level field of `dumpsys battery`; -1 if absent.
func parseBatteryLevel(output string) int {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || key != "level" {
			continue
		}
		level, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return -1
		}
		return level
	}
	return -1
}
