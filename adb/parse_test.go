package adb

import (
	"reflect"
	"testing"

	"adbdesk/models"
)

func TestParseDeviceListEmpty(t *testing.T) {
	for _, input := range []string{"", "   \n  ", DevicesHeader, DevicesHeader + "\n\n\n"} {
		devices := ParseDeviceList(input)
		if devices == nil {
			t.Fatalf("ParseDeviceList(%q) returned nil, want empty slice", input)
		}
		if len(devices) != 0 {
			t.Errorf("ParseDeviceList(%q) = %v, want no devices", input, devices)
		}
	}
}

func TestParseDeviceListDefaults(t *testing.T) {
	devices := ParseDeviceList(DevicesHeader + "\nemulator-5554\tdevice\n")
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	want := models.Device{
		ID:          "emulator-5554",
		Name:        "emulator-5554",
		State:       models.StateConnected,
		Product:     "unknown",
		Model:       "unknown",
		Device:      "unknown",
		TransportID: "0",
	}
	if devices[0] != want {
		t.Errorf("got %+v, want %+v", devices[0], want)
	}
}

func TestParseDeviceListProperties(t *testing.T) {
	raw := "List of devices attached\r\n" +
		"R58M123ABC             device usb:1-1 product:beyond1lte model:SM_G973F device:beyond1 transport_id:3\r\n" +
		"192.168.1.20:5555      device product:sdk_gphone model:Pixel_6 device:oriole transport_id:7\r\n" +
		"ZX1G22    unauthorized usb:336592896X transport_id:4\r\n" +
		"\r\n"

	devices := ParseDeviceList(raw)
	if len(devices) != 3 {
		t.Fatalf("expected 3 devices, got %d: %+v", len(devices), devices)
	}

	first := devices[0]
	if first.Name != "beyond1lte" || first.Model != "SM_G973F" || first.Device != "beyond1" || first.TransportID != "3" {
		t.Errorf("unexpected first device: %+v", first)
	}

	wifi := devices[1]
	if wifi.ID != "192.168.1.20:5555" {
		t.Errorf("id with colon mangled: %q", wifi.ID)
	}

	unauth := devices[2]
	if unauth.State != models.StateUnauthorized {
		t.Errorf("state = %s, want unauthorized", unauth.State)
	}
	if unauth.Name != "ZX1G22" || unauth.Product != "unknown" {
		t.Errorf("fallbacks not applied: %+v", unauth)
	}
}

func TestParseDeviceListColonInValue(t *testing.T) {
	devices := ParseDeviceList(DevicesHeader + "\nabc device product:a:b:c model: bogus\n")
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(devices))
	}
	if devices[0].Product != "a:b:c" {
		t.Errorf("product = %q, want a:b:c", devices[0].Product)
	}
	if devices[0].Model != "unknown" {
		t.Errorf("empty model value should fall back, got %q", devices[0].Model)
	}
	if devices[0].Name != "a:b:c" {
		t.Errorf("name = %q", devices[0].Name)
	}
}

func TestParseDeviceListNameFallsBackToModel(t *testing.T) {
	devices := ParseDeviceList(DevicesHeader + "\nabc device model:Pixel_7\n")
	if devices[0].Name != "Pixel_7" {
		t.Errorf("name = %q, want Pixel_7", devices[0].Name)
	}
}

func TestParseDeviceListSkipsMalformed(t *testing.T) {
	raw := DevicesHeader + "\n" +
		"lonely\n" +
		"* daemon started successfully\n" +
		"abc device\n"
	devices := ParseDeviceList(raw)
	// "* daemon ..." has enough tokens and is kept with a disconnected state.
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d: %+v", len(devices), devices)
	}
	if devices[1].ID != "abc" {
		t.Errorf("unexpected device order: %+v", devices)
	}
}

func TestParseDeviceListKeepsDuplicates(t *testing.T) {
	devices := ParseDeviceList(DevicesHeader + "\nabc device\nabc offline\n")
	if len(devices) != 2 {
		t.Fatalf("duplicates must not be merged, got %d", len(devices))
	}
	if devices[0].State != models.StateConnected || devices[1].State != models.StateOffline {
		t.Errorf("unexpected states: %+v", devices)
	}
}

func TestParseDeviceListIdempotent(t *testing.T) {
	raw := DevicesHeader + "\nabc device product:x\ndef offline\n"
	first := ParseDeviceList(raw)
	second := ParseDeviceList(raw)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("parse is not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		raw  string
		want models.DeviceState
	}{
		{"device", models.StateConnected},
		{"offline", models.StateOffline},
		{"unauthorized", models.StateUnauthorized},
		{"bootloader", models.StateDisconnected},
		{"recovery", models.StateDisconnected},
		{"", models.StateDisconnected},
	}
	for _, tt := range tests {
		if got := ParseState(tt.raw); got != tt.want {
			t.Errorf("ParseState(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseScreenSize(t *testing.T) {
	if got := parseScreenSize("Physical size: 1080x2400\n"); got != "1080x2400" {
		t.Errorf("physical only: %q", got)
	}
	if got := parseScreenSize("Physical size: 1080x2400\nOverride size: 720x1600\n"); got != "720x1600" {
		t.Errorf("override should win: %q", got)
	}
	if got := parseScreenSize("garbage"); got != "unknown" {
		t.Errorf("no size: %q", got)
	}
}

func TestParseBatteryLevel(t *testing.T) {
	dump := "Current Battery Service state:\n  AC powered: false\n  level: 87\n  scale: 100\n"
	if got := parseBatteryLevel(dump); got != 87 {
		t.Errorf("level = %d, want 87", got)
	}
	if got := parseBatteryLevel("nothing here"); got != -1 {
		t.Errorf("missing level = %d, want -1", got)
	}
}
