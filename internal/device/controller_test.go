package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/pool"
)

type fakePoolResolver struct {
	resolution *pool.Resolution
	err        error
}

func (f *fakePoolResolver) Resolve(ctx context.Context, criteria pool.Criteria) (*pool.Resolution, error) {
	return f.resolution, f.err
}

type fakeBackend struct {
	kind    models.DeviceType
	devices []models.Device
	tree    *models.UIElement
	taps    []struct{ x, y float64 }
}

func (f *fakeBackend) Kind() models.DeviceType { return f.kind }
func (f *fakeBackend) ListDevices(ctx context.Context) ([]models.Device, error) {
	return f.devices, nil
}
func (f *fakeBackend) Boot(ctx context.Context, udid string) error     { return nil }
func (f *fakeBackend) Shutdown(ctx context.Context, udid string) error { return nil }
func (f *fakeBackend) Install(ctx context.Context, udid, path string) error             { return nil }
func (f *fakeBackend) Launch(ctx context.Context, udid, bundle string) error            { return nil }
func (f *fakeBackend) Terminate(ctx context.Context, udid, bundle string) error         { return nil }
func (f *fakeBackend) Uninstall(ctx context.Context, udid, bundle string) error         { return nil }
func (f *fakeBackend) ListApps(ctx context.Context, udid string) ([]string, error)      { return nil, nil }
func (f *fakeBackend) Screenshot(ctx context.Context, udid string, scale float64, format string, quality int) ([]byte, error) {
	return nil, nil
}
func (f *fakeBackend) UITree(ctx context.Context, udid string) (*models.UIElement, error) {
	return f.tree, nil
}
func (f *fakeBackend) Tap(ctx context.Context, udid string, x, y float64, duration time.Duration) error {
	f.taps = append(f.taps, struct{ x, y float64 }{x, y})
	return nil
}
func (f *fakeBackend) Swipe(ctx context.Context, udid string, x0, y0, x1, y1 float64, duration time.Duration) error {
	return nil
}
func (f *fakeBackend) TypeText(ctx context.Context, udid, text string) error       { return nil }
func (f *fakeBackend) PressButton(ctx context.Context, udid, button string) error  { return nil }
func (f *fakeBackend) SetLocation(ctx context.Context, udid string, lat, lon float64) error { return nil }
func (f *fakeBackend) GrantPermission(ctx context.Context, udid, bundle, permission string) error {
	return nil
}

func testLog() *logging.Logger { return logging.New("test", "error", "text") }

func TestResolveUDIDExplicitWins(t *testing.T) {
	c := NewController(testLog(), &fakeBackend{kind: models.DeviceSimulator}, nil, nil)
	udid, err := c.ResolveUDID(context.Background(), "explicit-udid")
	require.NoError(t, err)
	require.Equal(t, "explicit-udid", udid)
}

func TestResolveUDIDStoredActive(t *testing.T) {
	c := NewController(testLog(), &fakeBackend{kind: models.DeviceSimulator}, nil, nil)
	c.SetActiveDevice("active-udid")
	udid, err := c.ResolveUDID(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "active-udid", udid)
}

func TestResolveUDIDFallsBackToPool(t *testing.T) {
	resolver := &fakePoolResolver{resolution: &pool.Resolution{Device: models.Device{UDID: "pool-udid"}}}
	c := NewController(testLog(), &fakeBackend{kind: models.DeviceSimulator}, nil, resolver)
	udid, err := c.ResolveUDID(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "pool-udid", udid)
}

func TestResolveUDIDPoolFailureFallsThroughToAutoDetect(t *testing.T) {
	now := time.Now()
	sim := &fakeBackend{kind: models.DeviceSimulator, devices: []models.Device{
		{UDID: "only-booted", State: models.StateBooted, LastUsed: &now},
	}}
	resolver := &fakePoolResolver{err: errors.New("pool unavailable")}
	c := NewController(testLog(), sim, nil, resolver)
	udid, err := c.ResolveUDID(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "only-booted", udid)
}

func TestResolveUDIDAutoDetectExactlyOneBooted(t *testing.T) {
	sim := &fakeBackend{kind: models.DeviceSimulator, devices: []models.Device{
		{UDID: "a", State: models.StateBooted},
		{UDID: "b", State: models.StateShutdown},
	}}
	c := NewController(testLog(), sim, nil, nil)
	udid, err := c.ResolveUDID(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "a", udid)
}

func TestResolveUDIDAutoDetectFailsWithMultipleBooted(t *testing.T) {
	sim := &fakeBackend{kind: models.DeviceSimulator, devices: []models.Device{
		{UDID: "a", State: models.StateBooted},
		{UDID: "b", State: models.StateBooted},
	}}
	c := NewController(testLog(), sim, nil, nil)
	_, err := c.ResolveUDID(context.Background(), "")
	require.Error(t, err)
}

func TestTapElementTapsResolvedCoordinates(t *testing.T) {
	tree := &models.UIElement{
		Type: "Window",
		Children: []models.UIElement{
			{Type: "Button", Label: "OK", Frame: models.Frame{X: 0, Y: 0, W: 10, H: 10}},
		},
	}
	sim := &fakeBackend{kind: models.DeviceSimulator, tree: tree}
	c := NewController(testLog(), sim, nil, nil)

	result, err := c.TapElement(context.Background(), sim, "udid-1", ElementFilter{Label: "OK"}, true, time.Now())
	require.NoError(t, err)
	require.NotNil(t, result.Tapped)
	require.Len(t, sim.taps, 1)
}

func TestTapElementNotFound(t *testing.T) {
	tree := &models.UIElement{Type: "Window"}
	sim := &fakeBackend{kind: models.DeviceSimulator, tree: tree}
	c := NewController(testLog(), sim, nil, nil)

	_, err := c.TapElement(context.Background(), sim, "udid-1", ElementFilter{Label: "Missing"}, true, time.Now())
	require.Error(t, err)
}
