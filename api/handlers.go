package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"adbdesk/models"
	"adbdesk/plugin"
	"adbdesk/service"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// DeviceService is the device registry as seen by the handlers.
type DeviceService interface {
	GetDevices(ctx context.Context) ([]models.Device, error)
	GetCachedDevices() []models.Device
	GetDeviceInfo(ctx context.Context, id string) (models.Device, error)
}

// DeviceInspector reads details off one device. *adb.Client implements it.
type DeviceInspector interface {
	DeviceDetails(ctx context.Context, deviceID string) (models.DeviceDetails, error)
	ScreenCapture(ctx context.Context, deviceID string) ([]byte, error)
}

type CommandExecutor interface {
	Execute(ctx context.Context, deviceID, command string) models.CommandResult
}

type ActionRunner interface {
	Dispatch(ctx context.Context, req models.ActionRequest) (models.CommandResult, error)
}

type ScriptService interface {
	RunScript(ctx context.Context, scriptPath string, args []string) models.ScriptResult
	InFlight() []string
	TerminateProcess(id string) bool
	Interpreter() string
	Version(ctx context.Context) (string, error)
}

type PluginService interface {
	Plugins() []models.LoadedPlugin
	Plugin(id string) (models.LoadedPlugin, bool)
	LoadPlugin(dir string) (models.LoadedPlugin, error)
	ScanAndLoad() []models.LoadedPlugin
	UnloadPlugin(id string) bool
	ExecuteScript(ctx context.Context, id, script string, args []string) (models.ScriptResult, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
}

// Handlers holds the HTTP handlers. History may be nil when history is disabled.
type Handlers struct {
	Devices   DeviceService
	Inspector DeviceInspector
	Commands  CommandExecutor
	Actions   ActionRunner
	Scripts   ScriptService
	Plugins   PluginService
	History   HistoryReader
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "adbdesk is running",
	}))
}

// GetDevices does a fresh fetch. A failed fetch is reported as an empty list.
func (h *Handlers) GetDevices(c *gin.Context) {
	devices, err := h.Devices.GetDevices(c.Request.Context())
	if err != nil {
		log.Warn().Str("module", "api").Err(err).Msg("get devices failed")
		devices = []models.Device{}
	}
	c.JSON(http.StatusOK, models.SuccessResponse(devices))
}

func (h *Handlers) GetCachedDevices(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.Devices.GetCachedDevices()))
}

func (h *Handlers) GetDevice(c *gin.Context) {
	device, err := h.Devices.GetDeviceInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(device))
}

func (h *Handlers) GetDeviceDetails(c *gin.Context) {
	details, err := h.Inspector.DeviceDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(details))
}

func (h *Handlers) GetScreenshot(c *gin.Context) {
	png, err := h.Inspector.ScreenCapture(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse(err.Error()))
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// Execute returns the bare CommandResult, not the envelope.
func (h *Handlers) Execute(c *gin.Context) {
	var req models.ExecuteRequest
	if err := bindObject(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.Commands.Execute(c.Request.Context(), req.DeviceID, req.Command))
}

func (h *Handlers) DispatchAction(c *gin.Context) {
	var req models.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	result, err := h.Actions.Dispatch(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) RunScript(c *gin.Context) {
	var req models.ScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	if strings.TrimSpace(req.ScriptPath) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("scriptPath is required"))
		return
	}
	c.JSON(http.StatusOK, h.Scripts.RunScript(c.Request.Context(), req.ScriptPath, req.Args))
}

func (h *Handlers) ListScripts(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.Scripts.InFlight()))
}

func (h *Handlers) TerminateScript(c *gin.Context) {
	if !h.Scripts.TerminateProcess(c.Param("id")) {
		c.JSON(http.StatusNotFound, models.ErrorResponse("process not found"))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("process terminated"))
}

func (h *Handlers) PythonInfo(c *gin.Context) {
	version, err := h.Scripts.Version(c.Request.Context())
	info := gin.H{
		"interpreter": h.Scripts.Interpreter(),
		"available":   err == nil,
		"version":     version,
	}
	c.JSON(http.StatusOK, models.SuccessResponse(info))
}

func (h *Handlers) ListPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.Plugins.Plugins()))
}

func (h *Handlers) GetPlugin(c *gin.Context) {
	p, ok := h.Plugins.Plugin(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, models.ErrorResponse("plugin not found"))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(p))
}

func (h *Handlers) LoadPlugin(c *gin.Context) {
	var req models.PluginLoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	p, err := h.Plugins.LoadPlugin(req.Path)
	if err != nil {
		c.JSON(statusFor(err), models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(p))
}

func (h *Handlers) ScanPlugins(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(h.Plugins.ScanAndLoad()))
}

func (h *Handlers) UnloadPlugin(c *gin.Context) {
	if !h.Plugins.UnloadPlugin(c.Param("id")) {
		c.JSON(http.StatusNotFound, models.ErrorResponse("plugin not found"))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("plugin unloaded"))
}

func (h *Handlers) ExecutePluginScript(c *gin.Context) {
	var req models.PluginExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse(err.Error()))
		return
	}
	result, err := h.Plugins.ExecuteScript(c.Request.Context(), c.Param("id"), req.Script, req.Args)
	if err != nil {
		c.JSON(statusFor(err), models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) GetHistory(c *gin.Context) {
	if h.History == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse("command history is disabled"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := h.History.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Str("module", "api").Err(err).Msg("read history failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(entries))
}

// statusFor maps domain errors onto HTTP status codes.
// bindObject decodes a JSON object body into obj. null, arrays and scalars
// are rejected, which plain binding would accept as an empty request.
func bindObject(c *gin.Context, obj any) error {
	raw, err := c.GetRawData()
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if !gjson.ParseBytes(raw).IsObject() {
		return errors.New("request body must be a JSON object")
	}
	return binding.JSON.BindBody(raw, obj)
}

func statusFor(err error) int {
	var verr *plugin.ValidationError
	switch {
	case errors.Is(err, service.ErrDeviceNotFound),
		errors.Is(err, plugin.ErrPluginNotFound),
		errors.Is(err, plugin.ErrManifestNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDeviceNotConnected):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnknownAction),
		errors.Is(err, service.ErrInvalidParams),
		errors.Is(err, plugin.ErrNoPython),
		errors.Is(err, plugin.ErrInvalidScript),
		errors.As(err, &verr):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
