// Command quernd is Quern's background daemon: the process that actually
// owns the ring buffer, flow store, device pool, proxy subprocess and HTTP
// API. It is never invoked directly by a user — cmd/quern re-execs this
// same binary with --foreground (see internal/lifecycle.Daemonize) after
// deciding a fresh instance is needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quern/quern/internal/adapters"
	"github.com/quern/quern/internal/config"
	"github.com/quern/quern/internal/device"
	"github.com/quern/quern/internal/flowstore"
	"github.com/quern/quern/internal/httpapi"
	"github.com/quern/quern/internal/lifecycle"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/internal/metrics"
	"github.com/quern/quern/internal/models"
	"github.com/quern/quern/internal/pool"
	"github.com/quern/quern/internal/proxy"
	"github.com/quern/quern/internal/ringbuffer"
	"github.com/quern/quern/pkg/version"
)

func main() {
	port := flag.Int("port", 0, "HTTP API port (0 = config default)")
	proxyPort := flag.Int("proxy-port", 0, "interceptor control port (0 = server port + 1)")
	noProxy := flag.Bool("no-proxy", false, "disable the network interception subsystem for this run")
	foreground := flag.Bool("foreground", false, "run attached to the calling terminal instead of daemonizing")
	verbose := flag.Bool("verbose", false, "force debug-level logging regardless of config")
	onCrash := flag.String("on-crash", "", "shell command to run once when the interceptor exits unexpectedly")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "quernd: load config:", err)
		os.Exit(1)
	}
	if err := cfg.EnsureHome(); err != nil {
		fmt.Fprintln(os.Stderr, "quernd: create home directory:", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *proxyPort != 0 {
		cfg.ProxyPort = *proxyPort
	}
	if *noProxy {
		cfg.EnableProxy = false
	}
	if *onCrash != "" {
		cfg.OnCrashHook = *onCrash
	}

	logLevel := cfg.LogLevel
	logFormat := cfg.LogFormat
	if *verbose {
		logLevel = "debug"
	}
	if *foreground {
		logFormat = "text"
	}
	log := logging.New("quernd", logLevel, logFormat)
	if !*foreground {
		log.SetOutput(lifecycle.NewDaemonLogWriter(cfg.DaemonLogPath()))
	}

	apiKey, err := lifecycle.LoadOrCreateAPIKey(cfg.APIKeyFilePath())
	if err != nil {
		log.WithError(err).Fatal("quernd: load or create api key")
	}

	manager := lifecycle.NewManager(cfg, log)
	startedAt := time.Now()

	logs := ringbuffer.New(cfg.RingBufferCapacity)
	flows := flowstore.New(cfg.FlowStoreCapacity)

	wda := device.NewWDAManager(log, cfg.XcodebuildTool, wdaSetupArgs(cfg), cfg.XcodebuildTool, wdaStartArgs(cfg))
	simulatorBackend := device.NewSimctlBackend(log, cfg.SimctlTool, wda)
	physicalBackend := device.NewDevicectlBackend(log, cfg.DevicectlTool, cfg.IdbTool, wda)
	previews := device.NewPreviewManager(log, cfg.SimctlTool, previewArgs(cfg))

	signer, err := pool.NewTokenSigner(cfg.PoolTokenSecret)
	if err != nil {
		log.WithError(err).Fatal("quernd: build pool token signer")
	}
	devicePool := pool.New(log, cfg.PoolFilePath(), simulatorBackend, signer)
	if err := devicePool.StartStaleCleanup(); err != nil {
		log.WithError(err).Warn("quernd: failed to start device pool stale-claim cleanup")
	}
	defer devicePool.StopStaleCleanup()

	controller := device.NewController(log, simulatorBackend, physicalBackend, devicePool)

	var px *proxy.Proxy
	var certVerifier *proxy.CertVerifier
	var sysProxy *proxy.SystemProxyManager
	var proxySnapshot models.SystemProxySnapshot
	systemProxyConfigured := false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.EnableProxy {
		px = proxy.New(log, flows, cfg.MitmTool, mitmArgs(cfg))
		px.OnCrash(func() {
			manager.MarkProxyCrashed(context.Background())
		})
		if err := px.Start(ctx); err != nil {
			log.WithError(err).Error("quernd: failed to start interceptor; proxy endpoints will report it stopped")
			px = nil
		} else {
			certVerifier = proxy.NewCertVerifier(cfg.CertFingerprint)
			if cfg.NetworkInterface != "" {
				sysProxy = proxy.NewSystemProxyManager(cfg.NetworkInterface)
				snap, err := sysProxy.Configure(ctx, "127.0.0.1", cfg.ProxyPort)
				if err != nil {
					log.WithError(err).Warn("quernd: failed to configure system proxy; simulators must be configured manually")
				} else {
					proxySnapshot = snap
					systemProxyConfigured = true
				}
			}
		}
	}

	builds := adapters.NewBuildAdapter(log, logs)

	var crash *adapters.CrashAdapter
	if cfg.EnableCrash {
		crash = adapters.NewCrashAdapter(log, logs, cfg.CrashReportsDir, cfg.OnCrashHook, "")
		if err := crash.Start(ctx); err != nil {
			log.WithError(err).Warn("quernd: failed to start crash watcher")
		}
	}

	onDemand := adapters.NewOnDemandRegistry(log, logs)

	syslogTool := cfg.SyslogTool
	if !cfg.EnableSyslog {
		syslogTool = ""
	}
	oslogTool := cfg.OSLogTool
	if !cfg.EnableOSLog {
		oslogTool = ""
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.NewWithRegistry(version.Version, prometheus.DefaultRegisterer)
		sampler := metrics.NewSampler(m, logs, flows, px, devicePool, startedAt)
		go sampler.Run(ctx)
	}

	server := httpapi.NewServer(httpapi.Config{
		Log:          log,
		Version:      version.Version,
		APIKey:       apiKey,
		Logs:         logs,
		Flows:        flows,
		Proxy:        px,
		CertVerifier: certVerifier,
		SysProxy:     sysProxy,
		CertPath:     cfg.CertPath,
		Controller:   controller,
		Previews:     previews,
		WDA:          wda,
		Pool:         devicePool,
		Builds:       builds,
		Crash:        crash,
		OnDemand:     onDemand,
		SyslogTool:   syslogTool,
		OSLogTool:    oslogTool,
		Metrics:      m,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.ServerPort),
		Handler: server.Router(),
	}

	state := manager.States()
	if err := state.Write(models.ServerState{
		PID:                   os.Getpid(),
		ServerPort:            cfg.ServerPort,
		ProxyPort:             cfg.ProxyPort,
		ProxyEnabled:          cfg.EnableProxy,
		ProxyStatus:           string(proxy.StatusStopped),
		StartedAt:             startedAt,
		APIKey:                apiKey,
		SystemProxyConfigured: systemProxyConfigured,
		SystemProxyInterface:  cfg.NetworkInterface,
		SystemProxySnapshot:   snapshotOrNil(systemProxyConfigured, proxySnapshot),
	}); err != nil {
		log.WithError(err).Fatal("quernd: write state file")
	}
	if px != nil {
		writeProxyStatus(state, string(proxy.StatusRunning))
	}

	go func() {
		log.WithContext(ctx).WithField("addr", httpServer.Addr).Info("quernd: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("quernd: http server exited unexpectedly")
		}
	}()

	sigCh := lifecycle.NotifyShutdown()
	<-sigCh
	log.WithContext(ctx).Info("quernd: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)

	cancel()
	devicePool.StopStaleCleanup()

	if crash != nil {
		_ = crash.Stop()
	}
	if px != nil {
		_ = px.Stop()
	}
	if systemProxyConfigured && sysProxy != nil {
		if err := sysProxy.Restore(context.Background(), proxySnapshot); err != nil {
			log.WithError(err).Warn("quernd: failed to restore system proxy on shutdown")
		}
	}

	if err := state.Remove(); err != nil {
		log.WithError(err).Warn("quernd: failed to remove state file on shutdown")
	}
}

func snapshotOrNil(configured bool, snap models.SystemProxySnapshot) *models.SystemProxySnapshot {
	if !configured {
		return nil
	}
	return &snap
}

func writeProxyStatus(state *lifecycle.StateStore, status string) {
	st, err := state.Read()
	if err != nil {
		return
	}
	st.ProxyStatus = status
	_ = state.Write(st)
}

// mitmArgs builds the interceptor subprocess's argument list. The
// interceptor is an external script/binary (see spec §4.5's
// external-collaborators list) addressed purely by config.Config.MitmTool;
// quernd tells it which port to listen on and which addon script to load.
func mitmArgs(cfg config.Config) []string {
	return []string{"-p", fmt.Sprintf("%d", cfg.ProxyPort), "-s", "quern_addon.py"}
}

// previewArgs builds the simulator screen-mirroring helper's arguments for
// a given udid.
func previewArgs(cfg config.Config) func(udid string) []string {
	return func(udid string) []string {
		return []string{"simctl", "io", udid, "recordVideo", "--codec=h264", "-"}
	}
}

// wdaSetupArgs builds the one-shot `xcodebuild test-without-building`
// invocation that installs and launches WebDriverAgent on udid.
func wdaSetupArgs(cfg config.Config) func(udid string) []string {
	return func(udid string) []string {
		return []string{
			"test-without-building",
			"-xctestrun", cfg.WDABundleID,
			"-destination", "id=" + udid,
		}
	}
}

// wdaStartArgs builds the long-lived `xcodebuild` invocation that keeps a
// WDA session alive once Setup has installed it.
func wdaStartArgs(cfg config.Config) func(udid string) []string {
	return func(udid string) []string {
		return []string{
			"test-without-building",
			"-xctestrun", cfg.WDABundleID,
			"-destination", "id=" + udid,
		}
	}
}
