package device

import (
	"context"
	"sync"
	"time"

	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/pool"
)

// PoolResolver is the narrow slice of internal/pool the controller needs
// for resolve-udid's pool-resolution step, kept as an interface so tests
// can supply a fake without constructing a real pool.Pool.
type PoolResolver interface {
	Resolve(ctx context.Context, criteria pool.Criteria) (*pool.Resolution, error)
}

// Controller is the facade over the simulator and physical-device backends
// described in spec §4.6.
type Controller struct {
	log        *logging.Logger
	simulator  Backend
	physical   Backend
	pool       PoolResolver
	uiCache    *UICache
	coordCache *CoordinateCache

	mu           sync.Mutex
	activeDevice string
}

func NewController(log *logging.Logger, simulator, physical Backend, pool PoolResolver) *Controller {
	return &Controller{
		log:        log,
		simulator:  simulator,
		physical:   physical,
		pool:       pool,
		uiCache:    NewUICache(),
		coordCache: NewCoordinateCache(),
	}
}

// SetActiveDevice records the stored active device used by resolve-udid's
// second priority tier.
func (c *Controller) SetActiveDevice(udid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeDevice = udid
}

func (c *Controller) getActiveDevice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeDevice
}

// ResolveUDID implements spec §4.6's priority order: explicit parameter →
// stored active → pool resolution (if attached) → auto-detect (exactly one
// booted) → error. Pool failure must be invisible to callers: any error
// from pool-backed resolution falls through to auto-detect rather than
// propagating.
func (c *Controller) ResolveUDID(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if active := c.getActiveDevice(); active != "" {
		return active, nil
	}
	if c.pool != nil {
		if res, err := c.pool.Resolve(ctx, pool.Criteria{}); err == nil && res != nil {
			return res.Device.UDID, nil
		}
	}
	return c.autoDetect(ctx)
}

func (c *Controller) autoDetect(ctx context.Context) (string, error) {
	devices, err := c.ListDevices(ctx, "", "")
	if err != nil {
		return "", err
	}
	var booted []models.Device
	for _, d := range devices {
		if d.State == models.StateBooted {
			booted = append(booted, d)
		}
	}
	if len(booted) != 1 {
		return "", errs.Validation("no device specified and auto-detect requires exactly one booted device").
			WithDetails("booted_count", len(booted))
	}
	return booted[0].UDID, nil
}

// BackendFor returns the backend responsible for deviceType, so HTTP
// handlers resolving a device from an incoming request can drive it
// through Tap/Swipe/UITree/etc. without reaching into controller internals.
func (c *Controller) BackendFor(deviceType models.DeviceType) Backend {
	return c.backendFor(deviceType)
}

func (c *Controller) backendFor(deviceType models.DeviceType) Backend {
	if deviceType == models.DevicePhysical {
		return c.physical
	}
	return c.simulator
}

// ListDevices enumerates devices from both backends, filtered by state and
// type; always succeeds even when a backend's tool is missing. A backend
// whose listing fails contributes no devices, and no flag or error reports
// which tool was missing.
func (c *Controller) ListDevices(ctx context.Context, state models.DeviceState, deviceType models.DeviceType) ([]models.Device, error) {
	var all []models.Device
	for _, backend := range []Backend{c.simulator, c.physical} {
		if backend == nil {
			continue
		}
		if deviceType != "" && backend.Kind() != deviceType {
			continue
		}
		devices, err := backend.ListDevices(ctx)
		if err != nil {
			continue // tool missing/failed becomes a gap in the list, not a propagated error
		}
		all = append(all, devices...)
	}
	if state == "" {
		return all, nil
	}
	var filtered []models.Device
	for _, d := range all {
		if d.State == state {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// FindDevice locates udid across both backends, used by HTTP handlers that
// need a device's type before picking which backend to drive it through.
func (c *Controller) FindDevice(ctx context.Context, udid string) (models.Device, error) {
	devices, err := c.ListDevices(ctx, "", "")
	if err != nil {
		return models.Device{}, err
	}
	for _, d := range devices {
		if d.UDID == udid {
			return d, nil
		}
	}
	return models.Device{}, errs.NotFound("device", udid)
}

// Boot boots a simulator; an error for physical devices per spec §4.6.
func (c *Controller) Boot(ctx context.Context, udid string, deviceType models.DeviceType) error {
	if deviceType == models.DevicePhysical {
		return errs.Validation("boot is not supported for physical devices")
	}
	return c.simulator.Boot(ctx, udid)
}

// Shutdown shuts down a simulator; an error for physical devices.
func (c *Controller) Shutdown(ctx context.Context, udid string, deviceType models.DeviceType) error {
	if deviceType == models.DevicePhysical {
		return errs.Validation("shutdown is not supported for physical devices")
	}
	return c.simulator.Shutdown(ctx, udid)
}

// mutating wraps an operation that invalidates the UI cache for udid
// before returning, per spec §4.6.
func (c *Controller) mutating(udid string, op func() error) error {
	err := op()
	c.uiCache.Invalidate(udid)
	return err
}

func (c *Controller) Tap(ctx context.Context, backend Backend, udid string, x, y float64) error {
	return c.mutating(udid, func() error {
		return backend.Tap(ctx, udid, x, y, defaultTapDurationMillis*time.Millisecond)
	})
}

func (c *Controller) Swipe(ctx context.Context, backend Backend, udid string, x0, y0, x1, y1 float64, duration time.Duration) error {
	return c.mutating(udid, func() error {
		return backend.Swipe(ctx, udid, x0, y0, x1, y1, duration)
	})
}

func (c *Controller) TypeText(ctx context.Context, backend Backend, udid, text string) error {
	return c.mutating(udid, func() error {
		return backend.TypeText(ctx, udid, text)
	})
}

// ClearText selects all, then deletes, per spec §4.6.
func (c *Controller) ClearText(ctx context.Context, backend Backend, udid string) error {
	return c.mutating(udid, func() error {
		if err := backend.PressButton(ctx, udid, "select-all"); err != nil {
			return err
		}
		return backend.TypeText(ctx, udid, "")
	})
}

// UITree returns the cached tree if fresh, otherwise queries the backend
// and refreshes the cache.
func (c *Controller) UITree(ctx context.Context, backend Backend, udid string, now time.Time) (*models.UIElement, error) {
	if cached, ok := c.uiCache.Get(udid, now); ok {
		return cached, nil
	}
	tree, err := backend.UITree(ctx, udid)
	if err != nil {
		return nil, err
	}
	models.LinkParents(tree)
	c.uiCache.Put(udid, tree, now)
	return tree, nil
}

// TapElement implements the tap_element algorithm from spec §4.6,
// including the stability pre-tap check (re-read the tree once and verify
// the element's frame hasn't moved before committing the tap) unless
// skipStabilityCheck is set.
func (c *Controller) TapElement(ctx context.Context, backend Backend, udid string, filter ElementFilter, skipStabilityCheck bool, now time.Time) (TapElementResult, error) {
	tree, err := c.UITree(ctx, backend, udid, now)
	if err != nil {
		return TapElementResult{}, err
	}

	result := ResolveTapElement(tree, filter)
	if result.NotFound {
		return result, errs.NotFound("ui_element", filter.Identifier+filter.Label)
	}
	if len(result.Ambiguous) > 0 {
		return result, nil
	}

	if !skipStabilityCheck {
		c.uiCache.Invalidate(udid)
		freshTree, err := c.UITree(ctx, backend, udid, now)
		if err != nil {
			return TapElementResult{}, err
		}
		freshResult := ResolveTapElement(freshTree, filter)
		if freshResult.Tapped == nil || !FramesEquivalent(result.Tapped.Frame, freshResult.Tapped.Frame) {
			result = freshResult
			if result.NotFound {
				return result, errs.NotFound("ui_element", filter.Identifier+filter.Label)
			}
			if len(result.Ambiguous) > 0 {
				return result, nil
			}
		}
	}

	if err := c.mutating(udid, func() error {
		return backend.Tap(ctx, udid, result.TapX, result.TapY, defaultTapDurationMillis*time.Millisecond)
	}); err != nil {
		return TapElementResult{}, err
	}
	return result, nil
}
