package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"adbdesk/models"
	"adbdesk/proc"

	"github.com/google/shlex"
	"github.com/pkg/errors"
)

// Client wraps adb command execution.
type Client struct {
	Path string
	// Timeout bounds every command. Zero means no bound.
	Timeout time.Duration
}

// NewClient creates a new adb client. An empty path means "adb" from PATH.
func NewClient(path string, timeout time.Duration) *Client {
	if path == "" {
		path = "adb"
	}
	return &Client{Path: path, Timeout: timeout}
}

// Execute runs `adb [-s deviceID] <command>`. The command string is split into
// arguments with shell quoting rules but no shell is involved.
// Failures are reported in the result, never as an error.
func (c *Client) Execute(ctx context.Context, deviceID, command string) models.CommandResult {
	args, err := shlex.Split(command)
	if err != nil {
		return models.FailedResult("", errors.Wrap(err, "parse command").Error())
	}
	if len(args) == 0 {
		return models.FailedResult("", "empty command")
	}
	return c.ExecuteArgs(ctx, deviceID, args...)
}

// ExecuteShell runs `adb [-s deviceID] shell <shellCommand>`. The command is
// passed through as one argument so the device shell sees pipes and quotes as typed.
func (c *Client) ExecuteShell(ctx context.Context, deviceID, shellCommand string) models.CommandResult {
	if strings.TrimSpace(shellCommand) == "" {
		return models.FailedResult("", "empty shell command")
	}
	return c.ExecuteArgs(ctx, deviceID, "shell", shellCommand)
}

// ExecuteArgs runs adb with an explicit argument vector.
func (c *Client) ExecuteArgs(ctx context.Context, deviceID string, args ...string) models.CommandResult {
	_, result := c.run(ctx, c.argv(deviceID, args))
	return result
}

func (c *Client) argv(deviceID string, args []string) []string {
	if deviceID == "" {
		return args
	}
	return append([]string{"-s", deviceID}, args...)
}

// run executes adb and returns raw stdout alongside the normalized result.
func (c *Client) run(ctx context.Context, argv []string) ([]byte, models.CommandResult) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := proc.Graceful(exec.CommandContext(ctx, c.Path, argv...))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Start()
	if err == nil {
		err = proc.Wait(cmd)
	}
	if err == nil {
		return stdout.Bytes(), models.CommandResult{
			Success:  true,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: 0,
		}
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.Bytes(), models.FailedResult(stdout.String(), models.TimeoutMarker)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			// killed by a signal
			code = 1
		}
		return stdout.Bytes(), models.CommandResult{
			Success:  false,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: code,
		}
	}

	// adb missing, not executable, ...
	return stdout.Bytes(), models.FailedResult(stdout.String(), err.Error())
}

// ListDevices runs `adb devices -l` and parses it.
func (c *Client) ListDevices(ctx context.Context) ([]models.Device, error) {
	result := c.ExecuteArgs(ctx, "", "devices", "-l")
	if !result.Success {
		// Some adb builds exit non-zero with no devices but still print the list.
		if strings.Contains(result.Stdout, DevicesHeader) {
			return ParseDeviceList(result.Stdout), nil
		}
		reason := strings.TrimSpace(result.Stderr)
		if reason == "" {
			reason = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return nil, errors.Errorf("adb devices failed: %s", reason)
	}
	return ParseDeviceList(result.Stdout), nil
}

// GetProperty reads a system property from the device.
func (c *Client) GetProperty(ctx context.Context, deviceID, property string) (string, error) {
	result := c.ExecuteArgs(ctx, deviceID, "shell", "getprop", property)
	if !result.Success {
		return "", errors.Errorf("getprop %s: %s", property, strings.TrimSpace(result.Stderr))
	}
	return strings.TrimSpace(result.Stdout), nil
}

// DeviceDetails collects Android version, screen size and battery level.
// Only the version lookup is fatal; the rest fall back to unknown values.
func (c *Client) DeviceDetails(ctx context.Context, deviceID string) (models.DeviceDetails, error) {
	details := models.DeviceDetails{ID: deviceID, Resolution: models.Unknown, Battery: -1}

	version, err := c.GetProperty(ctx, deviceID, "ro.build.version.release")
	if err != nil {
		return details, errors.Wrapf(err, "device %s", deviceID)
	}
	details.AndroidVersion = version

	if res := c.ExecuteArgs(ctx, deviceID, "shell", "wm", "size"); res.Success {
		details.Resolution = parseScreenSize(res.Stdout)
	}
	if res := c.ExecuteArgs(ctx, deviceID, "shell", "dumpsys", "battery"); res.Success {
		details.Battery = parseBatteryLevel(res.Stdout)
	}
	return details, nil
}

// ScreenCapture captures the device screen and returns PNG bytes.
func (c *Client) ScreenCapture(ctx context.Context, deviceID string) ([]byte, error) {
	png, result := c.run(ctx, c.argv(deviceID, []string{"exec-out", "screencap", "-p"}))
	if !result.Success {
		return nil, errors.Errorf("screencap failed: %s", strings.TrimSpace(result.Stderr))
	}
	return png, nil
}

// Tap sends a tap event to the device.
func (c *Client) Tap(ctx context.Context, deviceID string, x, y int) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "shell", "input", "tap", itoa(x), itoa(y))
}

// Swipe sends a swipe gesture to the device.
func (c *Client) Swipe(ctx context.Context, deviceID string, x1, y1, x2, y2, durationMs int) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "shell", "input", "swipe",
		itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(durationMs))
}

// Text types text on the device. `input text` treats %s as a space.
func (c *Client) Text(ctx context.Context, deviceID, text string) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "shell", "input", "text", strings.ReplaceAll(text, " ", "%s"))
}

// Key sends a key event to the device.
func (c *Client) Key(ctx context.Context, deviceID string, keycode int) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "shell", "input", "keyevent", itoa(keycode))
}

// OpenApp launches the launcher activity of a package.
func (c *Client) OpenApp(ctx context.Context, deviceID, packageName string) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "shell", "monkey", "-p", packageName,
		"-c", "android.intent.category.LAUNCHER", "1")
}

// InstallAPK installs an APK on the device, replacing an existing install.
func (c *Client) InstallAPK(ctx context.Context, deviceID, apkPath string) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "install", "-r", apkPath)
}

// PushFile pushes a local file to the device.
func (c *Client) PushFile(ctx context.Context, deviceID, localPath, remotePath string) models.CommandResult {
	return c.ExecuteArgs(ctx, deviceID, "push", localPath, remotePath)
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}
