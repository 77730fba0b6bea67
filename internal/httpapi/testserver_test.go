package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/quern/quern/internal/adapters"
	"github.com/quern/quern/internal/device"
	"github.com/quern/quern/internal/errs"
	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/pool"
	"github.com/quern/quern/internal/proxy"
	"github.com/quern/quern/internal/ringbuffer"
)

// ==========================================================================
// Fakes
// ==========================================================================

// fakeBackend is a minimal device.Backend a test can wire into a real
// device.Controller without spawning simctl/devicectl subprocesses.
type fakeBackend struct {
	kind    models.DeviceType
	devices []models.Device
	tree    *models.UIElement
}

func (b *fakeBackend) Kind() models.DeviceType { return b.kind }

func (b *fakeBackend) ListDevices(ctx context.Context) ([]models.Device, error) {
	return b.devices, nil
}
func (b *fakeBackend) Boot(ctx context.Context, udid string) error     { return nil }
func (b *fakeBackend) Shutdown(ctx context.Context, udid string) error { return nil }

func (b *fakeBackend) Install(ctx context.Context, udid, path string) error     { return nil }
func (b *fakeBackend) Launch(ctx context.Context, udid, bundle string) error    { return nil }
func (b *fakeBackend) Terminate(ctx context.Context, udid, bundle string) error { return nil }
func (b *fakeBackend) Uninstall(ctx context.Context, udid, bundle string) error { return nil }
func (b *fakeBackend) ListApps(ctx context.Context, udid string) ([]string, error) {
	return nil, nil
}

func (b *fakeBackend) Screenshot(ctx context.Context, udid string, scale float64, format string, quality int) ([]byte, error) {
	return []byte("fake-png-bytes"), nil
}
func (b *fakeBackend) UITree(ctx context.Context, udid string) (*models.UIElement, error) {
	return b.tree, nil
}

func (b *fakeBackend) Tap(ctx context.Context, udid string, x, y float64, duration time.Duration) error {
	return nil
}
func (b *fakeBackend) Swipe(ctx context.Context, udid string, x0, y0, x1, y1 float64, duration time.Duration) error {
	return nil
}
func (b *fakeBackend) TypeText(ctx context.Context, udid, text string) error      { return nil }
func (b *fakeBackend) PressButton(ctx context.Context, udid, button string) error { return nil }
func (b *fakeBackend) SetLocation(ctx context.Context, udid string, lat, lon float64) error {
	return nil
}
func (b *fakeBackend) GrantPermission(ctx context.Context, udid, bundle, permission string) error {
	return nil
}

// fakePoolResolver satisfies device.PoolResolver without a real pool.Pool,
// for controllers under test that never actually exercise pool fallback.
type fakePoolResolver struct{}

func (fakePoolResolver) Resolve(ctx context.Context, criteria pool.Criteria) (*pool.Resolution, error) {
	return nil, errs.NotFound("device", "no pool configured in test")
}

// ==========================================================================
// Fixture builder
// ==========================================================================

const testAPIKey = "test-secret-key"

const testUDID = "00000000-0000-0000-0000-000000000001"

// newTestServer builds a fully-wired Server backed by fakes/in-memory
// stores, so route tests exercise real handler logic without shelling out
// to simctl/devicectl or spawning the interceptor subprocess.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	log := logging.New("test", "error", "text")

	ringbuf := ringbuffer.New(256)
	flows := flowstore.New(256)

	builds := adapters.NewBuildAdapter(log, ringbuf)
	crash := adapters.NewCrashAdapter(log, ringbuf, t.TempDir(), "", "")
	onDemand := adapters.NewOnDemandRegistry(log, ringbuf)

	px := proxy.New(log, flows, "true", nil)

	sim := &fakeBackend{
		kind: models.DeviceSimulator,
		devices: []models.Device{{
			UDID:       testUDID,
			Name:       "iPhone 15 (test)",
			DeviceType: models.DeviceSimulator,
			State:      models.StateBooted,
		}},
		tree: &models.UIElement{Type: "Application", Label: "Root"},
	}
	phys := &fakeBackend{kind: models.DevicePhysical}
	controller := device.NewController(log, sim, phys, fakePoolResolver{})
	controller.SetActiveDevice(testUDID)

	return NewServer(Config{
		Log:        log,
		Version:    "test",
		APIKey:     testAPIKey,
		Logs:       ringbuf,
		Flows:      flows,
		Proxy:      px,
		Controller: controller,
		Builds:     builds,
		Crash:      crash,
		OnDemand:   onDemand,
		SyslogTool: "true",
		OSLogTool:  "true",
	})
}

// newTestServerWithPool mirrors newTestServer but also wires a real
// pool.Pool backed by a scratch file, for the device-pool route tests
// that need s.pool non-nil.
func newTestServerWithPool(t *testing.T) *Server {
	t.Helper()

	log := logging.New("test", "error", "text")
	ringbuf := ringbuffer.New(256)
	flows := flowstore.New(256)

	sim := &fakeBackend{
		kind: models.DeviceSimulator,
		devices: []models.Device{{
			UDID:       testUDID,
			Name:       "iPhone 15 (test)",
			DeviceType: models.DeviceSimulator,
			State:      models.StateBooted,
		}},
	}

	signer, err := pool.NewTokenSigner("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	p := pool.New(log, t.TempDir()+"/device-pool.json", sim, signer)

	return NewServer(Config{
		Log:     log,
		Version: "test",
		APIKey:  testAPIKey,
		Logs:    ringbuf,
		Flows:   flows,
		Pool:    p,
	})
}
