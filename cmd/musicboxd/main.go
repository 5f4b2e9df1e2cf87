package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"periph.io/x/host/v3"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var logLevel string

	root := &cobra.Command{
		Use:           "musicboxd",
		Short:         "Button-driven music box daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/musicboxd/config.yaml", "path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (error, warn, info, debug)")

	root.AddCommand(newRunCmd(&configPath, &logLevel))
	root.AddCommand(newSendCmd(&configPath))
	root.AddCommand(newScanCmd(&configPath, &logLevel))
	root.AddCommand(newVersionCmd())
	return root
}

// loadSetup loads the config and builds the logger, applying the log level
// override when given.
func loadSetup(configPath, logLevel string) (Config, *slog.Logger, error) {
	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		return Config{}, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}

	level, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, setupLogger(level), nil
}

func newRunCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSetup(*configPath, *logLevel)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	logger.Info("musicboxd starting", "version", version)

	dataDir := ExpandPath(cfg.DataDir)
	rescan := func() (*Library, error) {
		return ScanLibrary(dataDir, cfg.Playlists, logger)
	}
	library, err := rescan()
	if err != nil {
		return err
	}

	commands := NewMux[Command]()
	events := NewMux[Event]()
	listeners := NewBroadcaster[Event]()
	defer listeners.Close()

	metrics := NewMetrics()
	metrics.Volume.Set(cfg.Volume.Initial)

	playerFeed := events.NewFeed()
	player, err := NewBeepPlayer(playerFeed, logger)
	if err != nil {
		return err
	}
	defer player.Close()

	box := NewMusicBox(player, library, rescan, commands, events, listeners, cfg.Volume, metrics, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A bad pin takes out that button, not the box: IPC, keyboard and
	// signals keep working.
	if len(cfg.Buttons) > 0 {
		if _, err := host.Init(); err != nil {
			logger.Error("gpio host init failed, buttons disabled", "error", err)
		} else {
			hw := NewPeriphInterrupts()
			timing := cfg.Input.Timing()
			for _, bc := range cfg.Buttons {
				btn, err := StartButton(runCtx, hw, bc, timing, commands, metrics, logger)
				if err != nil {
					logger.Error("skipping button", "pin", bc.Pin, "error", err)
					continue
				}
				defer btn.Close()
			}
		}
	}

	StartMediaKeys(cfg.Keyboard.Devices, commands, logger)
	StartSignals(cfg.Signals, commands, logger)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// When the loop ends (Shutdown command or all inputs gone) the
		// rest of the group winds down too.
		defer cancel()
		return box.Run(gctx)
	})

	if cfg.IPC.SocketPath != "" {
		g.Go(func() error {
			return RunIPCServer(gctx, cfg.IPC.SocketPath, commands, logger)
		})
	}

	if cfg.Server.Enabled {
		srv := NewStatusServer(cfg.Server, listeners, commands, box.Snapshots(), metrics, logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("musicboxd stopped")
	return nil
}

func newSendCmd(configPath *string) *cobra.Command {
	var name string
	var force bool
	var socket string

	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send a command to a running daemon over IPC",
		Long: `Send a command to a running daemon over the Unix control socket.

Commands: play_pause, next_track, previous_track, volume_up, volume_down,
start_playlist (requires --name), reload, status, shutdown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := CommandSpec{Type: args[0], Name: name, Force: force}
			c, err := spec.Command()
			if err != nil {
				return err
			}

			path := socket
			if path == "" {
				cfg, err := LoadConfigFile(*configPath)
				if err != nil {
					return err
				}
				path = cfg.IPC.SocketPath
			}
			if path == "" {
				return errors.New("no IPC socket configured")
			}

			if err := SendIPCCommand(path, c); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "playlist name for start_playlist")
	cmd.Flags().BoolVar(&force, "force", false, "restart the playlist even if already active")
	cmd.Flags().StringVar(&socket, "socket", "", "IPC socket path (defaults to the config value)")
	return cmd
}

func newScanCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Scan the media directory and list playlists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadSetup(*configPath, *logLevel)
			if err != nil {
				return err
			}
			lib, err := ScanLibrary(ExpandPath(cfg.DataDir), cfg.Playlists, logger)
			if err != nil {
				return err
			}
			for _, name := range lib.Names() {
				pl := lib.Get(name)
				fmt.Printf("%s (%s): %d tracks\n", pl.Name, pl.Title, pl.Len())
				for i, t := range pl.Tracks {
					fmt.Printf("  %3d  %s\n", i, t.Title)
				}
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("musicboxd", version)
		},
	}
}
