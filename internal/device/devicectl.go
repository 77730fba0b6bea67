package device

import (
	"context"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/subprocess"
)

// DevicectlBackend drives a physically connected iPhone/iPad through
// Apple's `devicectl` CLI. Operations devicectl doesn't expose go
// elsewhere: tap/swipe/type use WebDriverAgent when one is configured and
// `idb` otherwise; button presses, location and permissions always use
// `idb`. Mirrors SimctlBackend's one-method-one-subprocess-call shape.
type DevicectlBackend struct {
	log     *logging.Logger
	tool    string
	idbTool string
	wda     *WDAManager
}

// NewDevicectlBackend builds a Backend for physical devices. When wda is
// set, Tap/Swipe/TypeText always go through it. idbTool may be empty, in
// which case every operation that reaches idb (Tap/Swipe/TypeText without
// wda, and PressButton/SetLocation/GrantPermission always) returns
// errs.ToolMissing.
func NewDevicectlBackend(log *logging.Logger, tool, idbTool string, wda *WDAManager) *DevicectlBackend {
	return &DevicectlBackend{log: log, tool: tool, idbTool: idbTool, wda: wda}
}

func (b *DevicectlBackend) Kind() models.DeviceType { return models.DevicePhysical }

func (b *DevicectlBackend) run(ctx context.Context, args ...string) (*subprocess.Result, error) {
	return subprocess.Run(ctx, "devicectl", b.tool, args, nil, 30*time.Second)
}

func (b *DevicectlBackend) runIdb(ctx context.Context, args ...string) (*subprocess.Result, error) {
	if b.idbTool == "" {
		return nil, errs.ToolMissing("idb", "idb is not configured for physical-device UI automation")
	}
	return subprocess.Run(ctx, "idb", b.idbTool, args, nil, 30*time.Second)
}

// ListDevices parses `devicectl list devices -j`'s result.devices array.
func (b *DevicectlBackend) ListDevices(ctx context.Context) ([]models.Device, error) {
	res, err := b.run(ctx, "devicectl", "list", "devices", "-j", "-")
	if err != nil {
		return nil, err
	}

	var devices []models.Device
	gjson.GetBytes(res.Stdout, "result.devices").ForEach(func(_, d gjson.Result) bool {
		state := models.StateShutdown
		if d.Get("connectionProperties.tunnelState").String() == "connected" {
			state = models.StateBooted
		}
		devices = append(devices, models.Device{
			UDID:         d.Get("hardwareProperties.udid").String(),
			Name:         d.Get("deviceProperties.name").String(),
			OSVersion:    d.Get("deviceProperties.osVersionNumber").String(),
			OSVersionNum: d.Get("deviceProperties.osVersionNumber").String(),
			DeviceType:   models.DevicePhysical,
			State:        state,
			IsAvailable:  state == models.StateBooted,
			ClaimStatus:  models.ClaimAvailable,
		})
		return true
	})
	return devices, nil
}

// Boot/Shutdown always return a validation error: hardware can't be
// remote-power-cycled through devicectl; per spec §4.1 these operations are
// simulator-only and the controller validates DeviceType before ever
// reaching this backend, so these exist only to satisfy the interface.
func (b *DevicectlBackend) Boot(ctx context.Context, udid string) error {
	return errs.Validation("boot is not supported for physical devices")
}

func (b *DevicectlBackend) Shutdown(ctx context.Context, udid string) error {
	return errs.Validation("shutdown is not supported for physical devices")
}

func (b *DevicectlBackend) Install(ctx context.Context, udid, path string) error {
	_, err := b.run(ctx, "devicectl", "device", "install", "app", "--device", udid, path)
	return err
}

func (b *DevicectlBackend) Launch(ctx context.Context, udid, bundle string) error {
	_, err := b.run(ctx, "devicectl", "device", "process", "launch", "--device", udid, bundle)
	return err
}

func (b *DevicectlBackend) Terminate(ctx context.Context, udid, bundle string) error {
	_, err := b.run(ctx, "devicectl", "device", "process", "terminate", "--device", udid, "--bundle-id", bundle)
	return err
}

func (b *DevicectlBackend) Uninstall(ctx context.Context, udid, bundle string) error {
	_, err := b.run(ctx, "devicectl", "device", "uninstall", "app", "--device", udid, bundle)
	return err
}

func (b *DevicectlBackend) ListApps(ctx context.Context, udid string) ([]string, error) {
	res, err := b.run(ctx, "devicectl", "device", "info", "apps", "--device", udid, "-j", "-")
	if err != nil {
		return nil, err
	}
	var bundles []string
	gjson.GetBytes(res.Stdout, "result.apps").ForEach(func(_, app gjson.Result) bool {
		bundles = append(bundles, app.Get("bundleIdentifier").String())
		return true
	})
	return bundles, nil
}

// Screenshot has no devicectl equivalent; WebDriverAgent's screenshot
// endpoint works unchanged against a physical device since it talks over
// the device's own HTTP bridge rather than simctl's io channel.
func (b *DevicectlBackend) Screenshot(ctx context.Context, udid string, scale float64, format string, quality int) ([]byte, error) {
	if b.wda == nil {
		return nil, errs.ToolMissing("wda", "WebDriverAgent is not configured for this device")
	}
	return b.wda.Screenshot(ctx, udid)
}

func (b *DevicectlBackend) UITree(ctx context.Context, udid string) (*models.UIElement, error) {
	if b.wda == nil {
		return nil, errs.ToolMissing("wda", "WebDriverAgent is not configured for this device")
	}
	return b.wda.FetchTree(ctx, udid)
}

func (b *DevicectlBackend) Tap(ctx context.Context, udid string, x, y float64, duration time.Duration) error {
	if b.wda != nil {
		return b.wda.Tap(ctx, udid, x, y, duration)
	}
	_, err := b.runIdb(ctx, "ui", "tap", "--udid", udid,
		strconv.Itoa(int(x)), strconv.Itoa(int(y)))
	return err
}

func (b *DevicectlBackend) Swipe(ctx context.Context, udid string, x0, y0, x1, y1 float64, duration time.Duration) error {
	if b.wda != nil {
		return b.wda.Swipe(ctx, udid, x0, y0, x1, y1, duration)
	}
	_, err := b.runIdb(ctx, "ui", "swipe", "--udid", udid,
		strconv.Itoa(int(x0)), strconv.Itoa(int(y0)), strconv.Itoa(int(x1)), strconv.Itoa(int(y1)))
	return err
}

func (b *DevicectlBackend) TypeText(ctx context.Context, udid, text string) error {
	if b.wda != nil {
		return b.wda.TypeText(ctx, udid, text)
	}
	_, err := b.runIdb(ctx, "ui", "text", "--udid", udid, text)
	return err
}

func (b *DevicectlBackend) PressButton(ctx context.Context, udid, button string) error {
	_, err := b.runIdb(ctx, "ui", "button", "--udid", udid, button)
	return err
}

func (b *DevicectlBackend) SetLocation(ctx context.Context, udid string, lat, lon float64) error {
	_, err := b.runIdb(ctx, "set-location", "--udid", udid,
		strconv.FormatFloat(lat, 'f', -1, 64), strconv.FormatFloat(lon, 'f', -1, 64))
	return err
}

func (b *DevicectlBackend) GrantPermission(ctx context.Context, udid, bundle, permission string) error {
	_, err := b.runIdb(ctx, "approve", "--udid", udid, permission, bundle)
	return err
}
