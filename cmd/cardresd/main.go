package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardresource/cardres/internal/api"
	"github.com/cardresource/cardres/internal/config"
	"github.com/cardresource/cardres/internal/logging"
	"github.com/cardresource/cardres/internal/pcscplugin"
	"github.com/cardresource/cardres/internal/resource"
	"github.com/cardresource/cardres/internal/service"
	"github.com/cardresource/cardres/internal/simplugin"
	"github.com/cardresource/cardres/internal/tray"
	"github.com/cardresource/cardres/internal/welcome"
)

func main() {
	// Define flags
	versionFlag := flag.Bool("version", false, "Print version information and exit")
	noTrayFlag := flag.Bool("no-tray", false, "Run without system tray (headless mode)")

	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Card Resource Daemon - local card reader allocation service\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  cardresd [flags]\n")
		fmt.Fprintf(os.Stderr, "  cardresd <command>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  install     Install auto-start service\n")
		fmt.Fprintf(os.Stderr, "  uninstall   Remove auto-start service\n")
		fmt.Fprintf(os.Stderr, "  version     Print version information\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables (prefix CARDRESD_, e.g. CARDRESD_PORT):\n")
		fmt.Fprintf(os.Stderr, "  CARDRESD_PORT              Port to listen on (default: 32145)\n")
		fmt.Fprintf(os.Stderr, "  CARDRESD_HOST              Host to bind to (default: 127.0.0.1)\n")
		fmt.Fprintf(os.Stderr, "  CARDRESD_DEFAULT_STRATEGY  Allocation strategy: first, cyclic, random\n")
		fmt.Fprintf(os.Stderr, "  CARDRESD_PROFILES_FILE     Path to a YAML file describing card resource profiles\n")
		fmt.Fprintf(os.Stderr, "  CARDRESD_BLOCKING_ENABLED  Block and poll for a card instead of failing fast (default: false)\n")
	}

	flag.Parse()

	// Handle version flag
	if *versionFlag {
		printVersion()
		return
	}

	// Handle commands (non-flag arguments)
	args := flag.Args()
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			return
		case "install":
			if err := installService(); err != nil {
				log.Fatalf("Failed to install service: %v", err)
			}
			fmt.Println("Auto-start service installed successfully")
			return
		case "uninstall":
			if err := uninstallService(); err != nil {
				log.Fatalf("Failed to uninstall service: %v", err)
			}
			fmt.Println("Auto-start service removed successfully")
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			flag.Usage()
			os.Exit(1)
		}
	}

	// Load configuration
	cfg := config.Load()

	// Start the server
	run(cfg, *noTrayFlag)
}

func printVersion() {
	fmt.Printf("cardresd %s\n", api.Version)
	fmt.Printf("Build time: %s\n", api.BuildTime)
	fmt.Printf("Git commit: %s\n", api.GitCommit)
}

// chainExtension tries each extension in turn, moving to the next one
// as soon as an extension reports the reader isn't one of the kinds it
// understands. This lets a single profile span readers coming from
// more than one plugin (PC/SC hardware and the in-memory simulator)
// without either plugin knowing about the other.
type chainExtension []resource.CardResourceProfileExtension

func (c chainExtension) MatchCard(ctx context.Context, reader resource.CardReader) (resource.SmartCard, bool, error) {
	var lastErr error
	for _, ext := range c {
		card, ok, err := ext.MatchCard(ctx, reader)
		if err == nil {
			return card, ok, nil
		}
		lastErr = err
	}
	return nil, false, lastErr
}

// sentryObservationHandler is the background exception-handler SPI
// sink for plugin- and reader-level observation errors: it logs
// through the ring buffer the API/dashboard read from and forwards the
// error to Sentry when crash reporting is enabled, the same treatment
// internal/logging/crash.go gives a recovered panic.
type sentryObservationHandler struct{}

func (sentryObservationHandler) OnPluginObservationError(pluginName string, err error) {
	logging.Warn(logging.CatPlugin, fmt.Sprintf("plugin %s observation error", pluginName), map[string]any{
		"error": err.Error(),
	})
	logging.CaptureError(err, "plugin_observation:"+pluginName, nil)
}

func (sentryObservationHandler) OnCardReaderObservationError(readerName string, err error) {
	logging.Warn(logging.CatReader, fmt.Sprintf("reader %s observation error", readerName), map[string]any{
		"error": err.Error(),
	})
	logging.CaptureError(err, "reader_observation:"+readerName, nil)
}

// buildService wires the process-wide resource.Service from cfg:
// whichever plugins are actually available on this machine (PC/SC
// hardware, always the in-memory simulator for demos), and one profile
// per configured profile spec, or a single "default" profile accepting
// any card if none were configured.
func buildService(cfg *config.Config) (*resource.Service, error) {
	pluginsBuilder := resource.NewPluginsConfiguratorBuilder()
	if cfg.UsageTimeoutSeconds > 0 {
		pluginsBuilder.WithUsageTimeout(secDuration(cfg.UsageTimeoutSeconds))
	}

	var extensions chainExtension
	registered := false

	if pcsc, err := pcscplugin.New("pcsc"); err != nil {
		logging.Warn(logging.CatPlugin, "PC/SC plugin unavailable, continuing without hardware readers", map[string]any{
			"error": err.Error(),
		})
	} else {
		var handler sentryObservationHandler
		pluginsBuilder.AddPluginWithMonitoring(pcsc, nil, handler, handler)
		extensions = append(extensions, pcscplugin.ISOSelectExtension{})
		registered = true
		logging.Info(logging.CatPlugin, "PC/SC plugin registered", nil)
	}

	sim := simplugin.New("simulated")
	pluginsBuilder.AddPlugin(sim, nil)
	extensions = append(extensions, simplugin.AnyCardExtension{})
	registered = true

	if !registered {
		return nil, fmt.Errorf("no plugin could be registered")
	}

	group, err := pluginsBuilder.Build()
	if err != nil {
		return nil, fmt.Errorf("build plugins: %w", err)
	}

	specs, err := config.LoadProfileSpecs(cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		strategy, err := resource.ParseAllocationStrategy(cfg.DefaultStrategy)
		if err != nil {
			return nil, err
		}
		specs = []config.ProfileSpec{{Name: "default", Strategy: strategy.String()}}
	}

	builder := resource.NewConfiguratorBuilder().WithPlugins(group)
	if cfg.BlockingEnabled {
		builder = builder.WithBlockingAllocationMode(msDuration(cfg.BlockingCycleMillis), secDuration(cfg.BlockingTimeoutSeconds))
	}

	for _, spec := range specs {
		profileCfg, err := buildProfile(spec, extensions)
		if err != nil {
			return nil, err
		}
		builder = builder.WithCardResourceProfiles(profileCfg)
	}

	if _, err := builder.Configure(); err != nil {
		return nil, fmt.Errorf("configure service: %w", err)
	}

	return (resource.Provider{}).Get(), nil
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
func secDuration(s int) time.Duration { return time.Duration(s) * time.Second }

func buildProfile(spec config.ProfileSpec, extensions chainExtension) (resource.CardResourceProfileConfig, error) {
	strategy, err := resource.ParseAllocationStrategy(spec.Strategy)
	if err != nil {
		return resource.CardResourceProfileConfig{}, fmt.Errorf("profile %s: %w", spec.Name, err)
	}

	ext := extensions
	if spec.AID != "" {
		aid, err := hex.DecodeString(spec.AID)
		if err != nil {
			return resource.CardResourceProfileConfig{}, fmt.Errorf("profile %s: invalid aid: %w", spec.Name, err)
		}
		ext = make(chainExtension, 0, len(extensions))
		for _, e := range extensions {
			if _, ok := e.(pcscplugin.ISOSelectExtension); ok {
				e = pcscplugin.ISOSelectExtension{AID: aid}
			}
			ext = append(ext, e)
		}
	}

	pb := resource.NewCardResourceProfileConfigurator(spec.Name, ext).WithAllocationStrategy(strategy)
	if len(spec.Plugins) > 0 {
		pb = pb.WithPlugins(spec.Plugins...)
	}
	if spec.ReaderNameRegex != "" {
		pb = pb.WithReaderNameRegex(spec.ReaderNameRegex)
	}
	if spec.ReaderGroupReference != "" {
		pb = pb.WithReaderGroupReference(spec.ReaderGroupReference)
	}

	cfg, err := pb.Build()
	if err != nil {
		return resource.CardResourceProfileConfig{}, fmt.Errorf("profile %s: %w", spec.Name, err)
	}
	return cfg, nil
}

func run(cfg *config.Config, headless bool) {
	// Initialize logging system
	logging.Init(1000, logging.LevelDebug)
	logging.Info(logging.CatSystem, "card resource daemon starting", map[string]any{
		"version": api.Version,
	})

	svc, err := buildService(cfg)
	if err != nil {
		log.Fatalf("failed to configure card resource service: %v", err)
	}
	svc.SetLogger(func(format string, args ...any) {
		logging.Info(logging.CatSystem, fmt.Sprintf(format, args...), nil)
	})
	if err := svc.Start(); err != nil {
		log.Fatalf("failed to start card resource service: %v", err)
	}

	var watcher *config.ProfilesWatcher
	if cfg.ProfilesFile != "" {
		w, err := config.NewProfilesWatcher(cfg.ProfilesFile)
		if err != nil {
			logging.Warn(logging.CatSystem, "failed to watch profiles file", map[string]any{"error": err.Error()})
		} else {
			watcher = w
			watchCtx, cancelWatch := context.WithCancel(context.Background())
			go watcher.Start(watchCtx, func() {
				logging.Warn(logging.CatSystem, "profiles file changed; restart the daemon to apply it", nil)
			})
			defer cancelWatch()
		}
	}

	mux := api.NewMux()

	// Add WebSocket endpoint
	mux.HandleFunc("/v1/ws", api.InitWebSocket())

	addr := cfg.Address()

	// Server start function
	startServer := func() {
		log.Printf("cardresd %s listening on http://%s\n", api.Version, addr)
		log.Printf("WebSocket available at ws://%s/v1/ws\n", addr)
		logging.Info(logging.CatSystem, "Server started", map[string]any{
			"address": addr,
		})

		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdown := func() {
		if watcher != nil {
			_ = watcher.Close()
		}
		_ = svc.Stop()
		os.Exit(0)
	}
	api.SetShutdownHandler(shutdown)

	// Determine if we should use system tray
	useTray := !headless && tray.IsSupported()

	if useTray {
		log.Println("Starting with system tray...")

		// Show welcome popup on first run
		if welcome.IsFirstRun() {
			go func() {
				welcome.ShowWelcome()
				_ = welcome.MarkAsShown() // Ignore error - non-critical
			}()
		}

		// Create tray app with quit handler
		trayApp := tray.New(addr, func() {
			log.Println("Shutting down...")
			shutdown()
		})

		// Run tray with server - this blocks on the main thread until quit
		// (required for macOS Cocoa compatibility)
		trayApp.RunWithServer(startServer)
	} else {
		if headless {
			log.Println("Running in headless mode (no system tray)")
		} else {
			log.Println("System tray not supported on this platform, running headless")
		}

		// Set up signal handling for graceful shutdown
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		go func() {
			<-sigChan
			log.Println("Shutting down...")
			shutdown()
		}()

		startServer()
	}
}

// installService installs the auto-start service for the current platform.
func installService() error {
	svc := service.New()
	return svc.Install()
}

// uninstallService removes the auto-start service for the current platform.
func uninstallService() error {
	svc := service.New()
	return svc.Uninstall()
}
