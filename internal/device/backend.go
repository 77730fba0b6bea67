// Package device implements Quern's device controller: a facade over a
// simulator-management backend and a physical-device-management backend,
// UI tree caching and the tap_element/get_tap_point algorithm. Grounded on
// r3e-network-service_layer's services/accountpool/service.go for the facade-over-a-
// backend-with-a-resolve-step shape (pool resolves an account the way the
// controller resolves a device), generalized from "pick an account" to
// "pick and drive a device."
package device

import (
	"context"
	"time"

	"github.com/quern/quern/internal/models"
)

// Backend is implemented once for simulators (wrapping the simulator
// management tool) and once for physical devices (wrapping the
// device-management tool). Operations invalid for a backend (e.g. Boot on
// a physical device) return errs.Validation.
type Backend interface {
	Kind() models.DeviceType

	ListDevices(ctx context.Context) ([]models.Device, error)
	Boot(ctx context.Context, udid string) error
	Shutdown(ctx context.Context, udid string) error

	Install(ctx context.Context, udid, path string) error
	Launch(ctx context.Context, udid, bundle string) error
	Terminate(ctx context.Context, udid, bundle string) error
	Uninstall(ctx context.Context, udid, bundle string) error
	ListApps(ctx context.Context, udid string) ([]string, error)

	Screenshot(ctx context.Context, udid string, scale float64, format string, quality int) ([]byte, error)
	UITree(ctx context.Context, udid string) (*models.UIElement, error)

	Tap(ctx context.Context, udid string, x, y float64, duration time.Duration) error
	Swipe(ctx context.Context, udid string, x0, y0, x1, y1 float64, duration time.Duration) error
	TypeText(ctx context.Context, udid, text string) error
	PressButton(ctx context.Context, udid, button string) error

	SetLocation(ctx context.Context, udid string, lat, lon float64) error
	GrantPermission(ctx context.Context, udid, bundle, permission string) error
}
