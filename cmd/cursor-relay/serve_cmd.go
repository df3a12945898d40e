package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asheshgoplani/cursor-relay/internal/automation"
	"github.com/asheshgoplani/cursor-relay/internal/config"
	"github.com/asheshgoplani/cursor-relay/internal/cursordb"
	"github.com/asheshgoplani/cursor-relay/internal/hub"
	"github.com/asheshgoplani/cursor-relay/internal/logging"
	"github.com/asheshgoplani/cursor-relay/internal/osa"
	"github.com/asheshgoplani/cursor-relay/internal/relay"
)

// handleServe runs the daemon: store poller, websocket hub, automation.
// Flag defaults come from config.toml; flags override.
func handleServe(args []string) {
	storeCfg := config.GetStoreSettings()
	serverCfg := config.GetServerSettings()
	autoCfg := config.GetAutomationSettings()
	pushCfg := config.GetPushSettings()

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", serverCfg.Host, "Bind address")
	port := fs.Int("port", serverCfg.Port, "Listen port")
	dbPath := fs.String("db", storeCfg.DBPath, "Path to Cursor's state.vscdb (auto-detected when empty)")
	interval := fs.Duration("interval", time.Duration(storeCfg.PollIntervalSecs)*time.Second, "Store polling cadence")
	token := fs.String("token", serverCfg.AuthToken, "Require this token on every connection (empty disables auth)")
	watchStore := fs.Bool("watch-store", storeCfg.WatchStore, "Watch the database file and poll eagerly on writes")
	appName := fs.String("app", autoCfg.AppName, "Application name for UI automation")
	typeMode := fs.Bool("type-mode", autoCfg.TypeMode, "Inject text as keystrokes instead of clipboard paste")
	pushEnabled := fs.Bool("push", pushCfg.Enabled, "Enable web push notifications for new replies")
	pushSubject := fs.String("push-subject", pushCfg.Subject, "VAPID subject (mailto: or https: URL)")
	debug := fs.Bool("debug", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Println("Usage: cursor-relay serve [options]")
		fmt.Println()
		fmt.Println("Run the relay daemon. Polls Cursor's conversation store and fans")
		fmt.Println("changes out to connected websocket clients.")
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		fmt.Println()
		fmt.Println("Examples:")
		fmt.Println("  cursor-relay serve")
		fmt.Println("  cursor-relay serve --port 9000 --token s3cret")
		fmt.Println("  cursor-relay serve --db ~/state.vscdb --interval 2s")
		fmt.Println("  cursor-relay serve --push --push-subject mailto:you@example.com")
	}

	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		os.Exit(1)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "Error: unexpected arguments: %v\n", fs.Args())
		os.Exit(1)
	}
	if *interval <= 0 {
		fmt.Fprintln(os.Stderr, "Error: --interval must be positive")
		os.Exit(1)
	}

	initServeLogging(*debug)
	defer logging.Shutdown()

	path := *dbPath
	if path == "" {
		var err error
		path, err = cursordb.DefaultPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: locate Cursor state database: %v\n", err)
			fmt.Fprintln(os.Stderr, "Point at it explicitly with --db /path/to/state.vscdb")
			os.Exit(1)
		}
	}

	db, err := cursordb.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := osa.CheckHost(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: UI automation unavailable: %v\n", err)
		fmt.Fprintln(os.Stderr, "Conversation mirroring still works; follow-up commands will fail.")
	}

	orch := automation.NewOrchestrator(osa.NewRunner(), db, automation.Config{
		AppName:  *appName,
		TypeMode: *typeMode,
	})

	// The watcher needs the hub for broadcasting and the hub needs the
	// watcher for forced resyncs; the closure breaks the cycle.
	var srv *hub.Server
	watcher := relay.NewWatcher(db, func(payload []byte, convs []relay.Conversation) {
		srv.Broadcast(payload, convs)
	}, *interval)

	var pushPublic, pushPrivate string
	if *pushEnabled {
		var generated bool
		pushPublic, pushPrivate, generated, err = hub.EnsureVAPIDKeys(*pushSubject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: prepare push keys: %v\n", err)
			os.Exit(1)
		}
		if generated {
			fmt.Println("Push keys: generated new VAPID keypair")
		} else {
			fmt.Println("Push keys: using existing VAPID keypair")
		}
	}

	srv = hub.NewServer(hub.Config{
		Host:      *host,
		Port:      *port,
		Token:     *token,
		StorePath: db.Path(),

		State:    watcher,
		Automate: orch,
		Search:   relay.NewSearchIndex(watcher.Snapshot),
		Snapshot: watcher.Snapshot,

		PushEnabled:         *pushEnabled,
		PushVAPIDPublicKey:  pushPublic,
		PushVAPIDPrivateKey: pushPrivate,
		PushSubject:         *pushSubject,
	})

	watcher.Start()
	defer watcher.Close()

	if *watchStore {
		notifier, err := relay.WatchStore(path, watcher.Nudge)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: store watch unavailable: %v\n", err)
		} else {
			defer notifier.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.ForComponent(logging.CompMain).Error("shutdown_failed",
				slog.String("error", err.Error()))
		}
	}()

	fmt.Printf("cursor-relay v%s serving on %s\n", Version, srv.Addr())
	fmt.Printf("  store: %s (poll every %s)\n", db.Path(), *interval)
	if *token != "" {
		fmt.Println("  auth:  token required")
	} else {
		fmt.Println("  auth:  disabled (set auth_token in config.toml for untrusted networks)")
	}
	if *pushEnabled {
		fmt.Println("  push:  enabled")
	}
	fmt.Println("Press Ctrl+C to stop.")

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initServeLogging installs the file-backed logger and the SIGUSR1 ring
// buffer dump handler.
func initServeLogging(debug bool) {
	baseDir, err := config.GetRelayDir()
	if err != nil {
		return
	}

	logSettings := config.GetLogSettings()
	logCfg := logging.Config{
		Debug:                 debug || os.Getenv("CURSOR_RELAY_DEBUG") != "",
		LogDir:                baseDir,
		Level:                 logSettings.DebugLevel,
		Format:                logSettings.DebugFormat,
		MaxSizeMB:             logSettings.DebugMaxMB,
		MaxBackups:            logSettings.DebugBackups,
		MaxAgeDays:            logSettings.DebugRetentionDays,
		Compress:              logSettings.GetDebugCompress(),
		RingBufferSize:        logSettings.RingBufferMB * 1024 * 1024,
		PprofEnabled:          logSettings.PprofEnabled,
		AggregateIntervalSecs: logSettings.AggregateIntervalS,
	}
	if logCfg.Debug {
		logCfg.Level = "debug"
	}
	logging.Init(logCfg)

	// SIGUSR1 dumps the ring buffer for post-mortem debugging.
	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go func() {
		for range usr1Chan {
			dumpPath := filepath.Join(baseDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(dumpPath); err != nil {
				logging.ForComponent(logging.CompMain).Error("crash_dump_failed",
					slog.String("error", err.Error()))
			} else {
				logging.ForComponent(logging.CompMain).Info("crash_dump_written",
					slog.String("path", dumpPath))
			}
		}
	}()
}
