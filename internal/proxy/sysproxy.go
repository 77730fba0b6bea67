package proxy

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/subprocess"
)

// SystemProxyManager snapshots and restores the host's network-interface
// proxy configuration via `networksetup`, so simulator traffic can be
// routed through the interceptor when local capture isn't used, per spec
// §4.5. No r3e-network-service_layer file touches host network configuration, so this is
// grounded on the snapshot-before-mutate shape spec §4.5 itself
// describes, built on the platform tool rather than hand-parsing network
// config files directly.
type SystemProxyManager struct {
	iface string
}

// NewSystemProxyManager targets the given network interface (e.g. "Wi-Fi").
func NewSystemProxyManager(iface string) *SystemProxyManager {
	return &SystemProxyManager{iface: iface}
}

// Configure snapshots the current proxy state for the interface, then
// points it at host:port. If snapshotting or configuration fails, the
// error is returned but the caller must still let the proxy subsystem
// start — system proxy configuration is a separate, recoverable step per
// spec §4.5.
func (m *SystemProxyManager) Configure(ctx context.Context, host string, port int) (models.SystemProxySnapshot, error) {
	snapshot, err := m.snapshot(ctx)
	if err != nil {
		return models.SystemProxySnapshot{}, err
	}

	_, err = subprocess.Run(ctx, "networksetup", "networksetup",
		[]string{"-setwebproxy", m.iface, host, strconv.Itoa(port)}, nil, 10*time.Second)
	if err != nil {
		return snapshot, err
	}
	return snapshot, nil
}

// snapshot reads the interface's current web-proxy configuration.
func (m *SystemProxyManager) snapshot(ctx context.Context) (models.SystemProxySnapshot, error) {
	result, err := subprocess.Run(ctx, "networksetup", "networksetup",
		[]string{"-getwebproxy", m.iface}, nil, 10*time.Second)
	if err != nil {
		return models.SystemProxySnapshot{}, err
	}
	return parseNetworksetupOutput(m.iface, string(result.Stdout)), nil
}

// Restore unconditionally reapplies snapshot to its interface, per spec
// §4.5's "on stop/shutdown/crash-recovery, the snapshot is restored
// unconditionally" rule.
func (m *SystemProxyManager) Restore(ctx context.Context, snapshot models.SystemProxySnapshot) error {
	if snapshot.Interface == "" {
		return nil
	}
	if !snapshot.WasEnabled {
		_, err := subprocess.Run(ctx, "networksetup", "networksetup",
			[]string{"-setwebproxystate", snapshot.Interface, "off"}, nil, 10*time.Second)
		return err
	}
	_, err := subprocess.Run(ctx, "networksetup", "networksetup",
		[]string{"-setwebproxy", snapshot.Interface, snapshot.PriorHost, strconv.Itoa(snapshot.PriorPort)}, nil, 10*time.Second)
	return err
}

// parseNetworksetupOutput turns networksetup's "Key: Value" lines into a
// snapshot struct.
func parseNetworksetupOutput(iface, output string) models.SystemProxySnapshot {
	snap := models.SystemProxySnapshot{Interface: iface}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "Enabled":
			snap.WasEnabled = value == "Yes"
		case "Server":
			snap.PriorHost = value
		case "Port":
			snap.PriorPort, _ = strconv.Atoi(value)
		}
	}
	return snap
}
