package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"adbdesk/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrDeviceNotConnected = errors.New("device not connected")
	ErrUnknownAction      = errors.New("unknown action type")
	ErrInvalidParams      = errors.New("invalid action params")
)

// DeviceActions is the set of adb input/app actions. *adb.Client implements it.
type DeviceActions interface {
	Tap(ctx context.Context, deviceID string, x, y int) models.CommandResult
	Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2, durationMs int) models.CommandResult
	Text(ctx context.Context, deviceID, text string) models.CommandResult
	Key(ctx context.Context, deviceID string, keycode int) models.CommandResult
	OpenApp(ctx context.Context, deviceID, packageName string) models.CommandResult
	InstallAPK(ctx context.Context, deviceID, apkPath string) models.CommandResult
	PushFile(ctx context.Context, deviceID, localPath, remotePath string) models.CommandResult
}

// DeviceFinder looks a device up with a fresh fetch. *DeviceRegistry implements it.
type DeviceFinder interface {
	GetDeviceInfo(ctx context.Context, id string) (models.Device, error)
}

const defaultSwipeDurationMs = 300

// ActionDispatcher validates action requests and runs them on a connected device.
type ActionDispatcher struct {
	devices DeviceFinder
	actions DeviceActions
	history HistoryRecorder
}

func NewActionDispatcher(devices DeviceFinder, actions DeviceActions, history HistoryRecorder) *ActionDispatcher {
	return &ActionDispatcher{devices: devices, actions: actions, history: history}
}

// Dispatch runs one action. Validation problems are errors; a command that ran
// and failed is a result with Success=false.
func (d *ActionDispatcher) Dispatch(ctx context.Context, req models.ActionRequest) (models.CommandResult, error) {
	device, err := d.devices.GetDeviceInfo(ctx, req.DeviceID)
	if err != nil {
		return models.CommandResult{}, err
	}
	if device.State != models.StateConnected {
		return models.CommandResult{}, errors.Wrapf(ErrDeviceNotConnected, "device %s is %s", device.ID, device.State)
	}

	run, err := d.prepare(req)
	if err != nil {
		return models.CommandResult{}, err
	}

	started := time.Now()
	result := run(ctx)
	log.Info().
		Str("module", "dispatcher").
		Str("device", req.DeviceID).
		Str("action", req.Type).
		Bool("success", result.Success).
		Msg("action executed")
	recordHistory(ctx, d.history, req.DeviceID, describeAction(req), started, result)
	return result, nil
}

// prepare validates params up front so nothing runs on bad input.
func (d *ActionDispatcher) prepare(req models.ActionRequest) (func(context.Context) models.CommandResult, error) {
	p := params(req.Params)
	id := req.DeviceID

	switch req.Type {
	case models.ActionTap:
		x, y := p.intValue("x"), p.intValue("y")
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult { return d.actions.Tap(ctx, id, x, y) }, nil

	case models.ActionSwipe:
		x1, y1, x2, y2 := p.intValue("x1"), p.intValue("y1"), p.intValue("x2"), p.intValue("y2")
		duration := p.optionalInt("duration", defaultSwipeDurationMs)
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult {
			return d.actions.Swipe(ctx, id, x1, y1, x2, y2, duration)
		}, nil

	case models.ActionInput:
		text := p.stringValue("text")
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult { return d.actions.Text(ctx, id, text) }, nil

	case models.ActionKey:
		keycode := p.intValue("keycode")
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult { return d.actions.Key(ctx, id, keycode) }, nil

	case models.ActionOpenApp:
		pkg := p.stringValue("package")
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult { return d.actions.OpenApp(ctx, id, pkg) }, nil

	case models.ActionInstallAPK:
		apk := p.stringValue("apk_path")
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult { return d.actions.InstallAPK(ctx, id, apk) }, nil

	case models.ActionPushFile:
		local, remote := p.stringValue("local"), p.stringValue("remote")
		if err := p.err(); err != nil {
			return nil, err
		}
		return func(ctx context.Context) models.CommandResult {
			return d.actions.PushFile(ctx, id, local, remote)
		}, nil

	default:
		return nil, errors.Wrapf(ErrUnknownAction, "%q", req.Type)
	}
}

func describeAction(req models.ActionRequest) string {
	return fmt.Sprintf("action:%s %v", req.Type, req.Params)
}

// paramReader reads typed values out of a decoded JSON object, remembering the
// first problem.
type paramReader struct {
	values map[string]interface{}
	first  error
}

func params(values map[string]interface{}) *paramReader {
	return &paramReader{values: values}
}

func (p *paramReader) fail(key, reason string) {
	if p.first == nil {
		p.first = errors.Wrapf(ErrInvalidParams, "%s %s", key, reason)
	}
}

func (p *paramReader) err() error {
	return p.first
}

func (p *paramReader) intValue(key string) int {
	v, ok := p.values[key]
	if !ok {
		p.fail(key, "is required")
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			p.fail(key, "must be a number")
		}
		return i
	default:
		p.fail(key, "must be a number")
		return 0
	}
}

func (p *paramReader) optionalInt(key string, fallback int) int {
	if _, ok := p.values[key]; !ok {
		return fallback
	}
	return p.intValue(key)
}

func (p *paramReader) stringValue(key string) string {
	v, ok := p.values[key]
	if !ok {
		p.fail(key, "is required")
		return ""
	}
	s, ok := v.(string)
	if !ok || s == "" {
		p.fail(key, "must be a non-empty string")
	}
	return s
}
