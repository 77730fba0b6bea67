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

// SimctlBackend drives the iOS Simulator fleet through Apple's `simctl`
// CLI and a WebDriverAgent instance for taps/typing/UI introspection.
// Grounded on services/accountpool/service.go's shape of "one backend,
// one external tool, every method a thin subprocess.Run call", adapted
// here from RPC calls against a blockchain node to CLI calls against
// simctl; `tidwall/gjson` pulls just the fields needed out of simctl's
// (often large) `-j` output rather than round-tripping through a full
// unmarshal into a mirror struct.
type SimctlBackend struct {
	log  *logging.Logger
	tool string
	wda  *WDAManager
}

// NewSimctlBackend builds a Backend that shells out to tool (normally
// "xcrun" with a leading "simctl" arg, or "simctl" directly if it's on
// PATH) and drives taps/UI queries through wda.
func NewSimctlBackend(log *logging.Logger, tool string, wda *WDAManager) *SimctlBackend {
	return &SimctlBackend{log: log, tool: tool, wda: wda}
}

func (b *SimctlBackend) Kind() models.DeviceType { return models.DeviceSimulator }

func (b *SimctlBackend) run(ctx context.Context, args ...string) (*subprocess.Result, error) {
	return subprocess.Run(ctx, "simctl", b.tool, args, nil, 30*time.Second)
}

// ListDevices parses `simctl list devices -j`'s runtime-keyed map into the
// flat slice the controller and pool expect.
func (b *SimctlBackend) ListDevices(ctx context.Context) ([]models.Device, error) {
	res, err := b.run(ctx, "simctl", "list", "devices", "-j")
	if err != nil {
		return nil, err
	}

	var devices []models.Device
	gjson.GetBytes(res.Stdout, "devices").ForEach(func(runtime, entries gjson.Result) bool {
		osVersion, osNumeric := parseRuntimeIdentifier(runtime.String())
		entries.ForEach(func(_, d gjson.Result) bool {
			devices = append(devices, models.Device{
				UDID:         d.Get("udid").String(),
				Name:         d.Get("name").String(),
				OSVersion:    osVersion,
				OSVersionNum: osNumeric,
				DeviceType:   models.DeviceSimulator,
				State:        simctlState(d.Get("state").String()),
				IsAvailable:  d.Get("isAvailable").Bool(),
				ClaimStatus:  models.ClaimAvailable,
			})
			return true
		})
		return true
	})
	return devices, nil
}

// simctlState maps simctl's state strings onto Quern's DeviceState enum;
// unrecognized values pass through as shutdown rather than erroring, since
// new runtime states are additive and not fatal to a list call.
func simctlState(raw string) models.DeviceState {
	switch raw {
	case "Booted":
		return models.StateBooted
	case "Booting":
		return models.StateBooting
	default:
		return models.StateShutdown
	}
}

// parseRuntimeIdentifier turns
// "com.apple.CoreSimulator.SimRuntime.iOS-17-4" into ("iOS 17.4", "17.4").
func parseRuntimeIdentifier(id string) (display, numeric string) {
	const prefix = "com.apple.CoreSimulator.SimRuntime."
	if len(id) <= len(prefix) {
		return id, ""
	}
	rest := id[len(prefix):]
	platform := ""
	version := rest
	for i := 0; i < len(rest); i++ {
		if rest[i] == '-' {
			platform = rest[:i]
			version = rest[i+1:]
			break
		}
	}
	for i := 0; i < len(version); i++ {
		if version[i] == '-' {
			version = version[:i] + "." + version[i+1:]
		}
	}
	if platform == "" {
		return rest, version
	}
	return platform + " " + version, version
}

func (b *SimctlBackend) Boot(ctx context.Context, udid string) error {
	_, err := b.run(ctx, "simctl", "boot", udid)
	return err
}

func (b *SimctlBackend) Shutdown(ctx context.Context, udid string) error {
	_, err := b.run(ctx, "simctl", "shutdown", udid)
	return err
}

func (b *SimctlBackend) Install(ctx context.Context, udid, path string) error {
	_, err := b.run(ctx, "simctl", "install", udid, path)
	return err
}

func (b *SimctlBackend) Launch(ctx context.Context, udid, bundle string) error {
	_, err := b.run(ctx, "simctl", "launch", udid, bundle)
	return err
}

func (b *SimctlBackend) Terminate(ctx context.Context, udid, bundle string) error {
	_, err := b.run(ctx, "simctl", "terminate", udid, bundle)
	return err
}

func (b *SimctlBackend) Uninstall(ctx context.Context, udid, bundle string) error {
	_, err := b.run(ctx, "simctl", "uninstall", udid, bundle)
	return err
}

func (b *SimctlBackend) ListApps(ctx context.Context, udid string) ([]string, error) {
	res, err := b.run(ctx, "simctl", "listapps", udid, "-j")
	if err != nil {
		return nil, err
	}
	var bundles []string
	gjson.ParseBytes(res.Stdout).ForEach(func(bundleID, _ gjson.Result) bool {
		bundles = append(bundles, bundleID.String())
		return true
	})
	return bundles, nil
}

// Screenshot shells out to `simctl io <udid> screenshot` with a temp-free
// pipe through stdout isn't supported by simctl, so this writes to a
// scratch path under the system temp dir and reads it back. scale is not
// passed to simctl for any format, and quality's value is never passed
// either (a jpeg request with quality > 0 only adds "--mask=ignored").
func (b *SimctlBackend) Screenshot(ctx context.Context, udid string, scale float64, format string, quality int) ([]byte, error) {
	if format == "" {
		format = "png"
	}
	tmp := tempScreenshotPath(udid, format)
	args := []string{"simctl", "io", udid, "screenshot", "--type=" + format}
	if format == "jpeg" && quality > 0 {
		args = append(args, "--mask=ignored")
	}
	args = append(args, tmp)
	if _, err := b.run(ctx, args...); err != nil {
		return nil, err
	}
	return readAndRemove(tmp)
}

func (b *SimctlBackend) UITree(ctx context.Context, udid string) (*models.UIElement, error) {
	if b.wda == nil {
		return nil, errs.ToolMissing("wda", "WebDriverAgent is not configured for this simulator")
	}
	return b.wda.FetchTree(ctx, udid)
}

func (b *SimctlBackend) Tap(ctx context.Context, udid string, x, y float64, duration time.Duration) error {
	if b.wda == nil {
		return errs.ToolMissing("wda", "WebDriverAgent is not configured for this simulator")
	}
	return b.wda.Tap(ctx, udid, x, y, duration)
}

func (b *SimctlBackend) Swipe(ctx context.Context, udid string, x0, y0, x1, y1 float64, duration time.Duration) error {
	if b.wda == nil {
		return errs.ToolMissing("wda", "WebDriverAgent is not configured for this simulator")
	}
	return b.wda.Swipe(ctx, udid, x0, y0, x1, y1, duration)
}

func (b *SimctlBackend) TypeText(ctx context.Context, udid, text string) error {
	if b.wda == nil {
		return errs.ToolMissing("wda", "WebDriverAgent is not configured for this simulator")
	}
	return b.wda.TypeText(ctx, udid, text)
}

func (b *SimctlBackend) PressButton(ctx context.Context, udid, button string) error {
	_, err := b.run(ctx, "simctl", "io", udid, "button", button)
	return err
}

func (b *SimctlBackend) SetLocation(ctx context.Context, udid string, lat, lon float64) error {
	_, err := b.run(ctx, "simctl", "location", udid, "set",
		strconv.FormatFloat(lat, 'f', -1, 64)+","+strconv.FormatFloat(lon, 'f', -1, 64))
	return err
}

func (b *SimctlBackend) GrantPermission(ctx context.Context, udid, bundle, permission string) error {
	_, err := b.run(ctx, "simctl", "privacy", udid, "grant", permission, bundle)
	return err
}
