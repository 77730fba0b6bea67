// Command quern is the CLI a developer or an automation harness runs
// directly: start/stop/restart/status for the background daemon, plus
// version reporting. The daemon itself lives in cmd/quernd; quern never
// touches the ring buffer, flow store or device pool directly, only the
// lifecycle.Manager that knows how to launch and supervise it.
//
// Usage:
//
//	quern start [--no-proxy] [--port N] [--proxy-port N] [--foreground] [--verbose] [--on-crash CMD]
//	quern stop
//	quern restart
//	quern status
//	quern version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/quern/quern/internal/config"
	"github.com/quern/quern/internal/lifecycle"
	"github.com/quern/quern/internal/logging"
	"github.com/quern/quern/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		cmdStart(args)
	case "stop":
		cmdStop(args)
	case "restart":
		cmdRestart(args)
	case "status":
		cmdStatus(args)
	case "version":
		fmt.Println(version.FullVersion())
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "quern: unknown command %q\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: quern <command> [flags]

commands:
  start     start the background daemon (no-op if already running)
  stop      stop the background daemon
  restart   stop, then start, the background daemon
  status    report whether the daemon is running and healthy
  version   print the quern version

run "quern start -h" for start's flags`)
}

func newManager() (*lifecycle.Manager, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	log := logging.New("quern", cfg.LogLevel, "text")
	return lifecycle.NewManager(cfg, log), cfg, nil
}

func cmdStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	noProxy := fs.Bool("no-proxy", false, "disable network interception for this run")
	port := fs.Int("port", 0, "HTTP API port (0 = config default)")
	proxyPort := fs.Int("proxy-port", 0, "interceptor control port (0 = server port + 1)")
	foreground := fs.Bool("foreground", false, "rejected here: only the quernd binary accepts --foreground")
	verbose := fs.Bool("verbose", false, "debug-level logging")
	onCrash := fs.String("on-crash", "", "shell command to run once when the interceptor crashes")
	fs.Parse(args)

	if *foreground {
		// cmd/quern never runs the server loop, so --foreground is refused
		// with an error; only the quernd binary accepts it.
		fmt.Fprintln(os.Stderr, "quern: --foreground must be run via the quernd binary, not quern start")
		os.Exit(1)
	}

	manager, _, err := newManager()
	if err != nil {
		fail("load config", err)
	}

	result, err := manager.Start(context.Background(), lifecycle.StartOptions{
		NoProxy:    *noProxy,
		Port:       *port,
		ProxyPort:  *proxyPort,
		Foreground: false,
		Verbose:    *verbose,
		OnCrash:    *onCrash,
	})
	if err != nil {
		fail("start daemon", err)
	}

	if result.AlreadyRunning {
		fmt.Printf("quern is already running (pid %d, port %d)\n", result.PID, result.ServerPort)
		return
	}
	fmt.Printf("quern started (pid %d, port %d, proxy port %d)\n", result.PID, result.ServerPort, result.ProxyPort)
}

func cmdStop(args []string) {
	manager, _, err := newManager()
	if err != nil {
		fail("load config", err)
	}
	if err := manager.Stop(context.Background()); err != nil {
		fail("stop daemon", err)
	}
	fmt.Println("quern stopped")
}

func cmdRestart(args []string) {
	manager, _, err := newManager()
	if err != nil {
		fail("load config", err)
	}
	if err := manager.Stop(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "quern: stop before restart: %v\n", err)
	}
	cmdStart(args)
}

func cmdStatus(args []string) {
	jsonOut := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := jsonOut.Bool("json", false, "print status as JSON")
	jsonOut.Parse(args)

	manager, _, err := newManager()
	if err != nil {
		fail("load config", err)
	}

	st, err := manager.Status(context.Background())
	if err != nil {
		fmt.Println("quern is not running")
		os.Exit(2)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(st)
		if !st.Healthy {
			os.Exit(2)
		}
		return
	}

	fmt.Printf("pid:         %d\n", st.State.PID)
	fmt.Printf("alive:       %v\n", st.Alive)
	fmt.Printf("healthy:     %v\n", st.Healthy)
	fmt.Printf("server port: %d\n", st.State.ServerPort)
	fmt.Printf("proxy port:  %d\n", st.State.ProxyPort)
	fmt.Printf("proxy:       %s\n", st.State.ProxyStatus)
	if !st.Healthy {
		os.Exit(2)
	}
}

func fail(action string, err error) {
	fmt.Fprintf(os.Stderr, "quern: %s: %v\n", action, err)
	os.Exit(1)
}
