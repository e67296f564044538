package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"

	"camviz/capture"
	"camviz/config"
	"camviz/control"
	"camviz/overlay"
	"camviz/pipeline"
	"camviz/port"
	"camviz/registry"
	"camviz/sink"
)

var version = "dev"

var (
	envFile      string
	logLevel     string
	listenAddr   string
	streamName   string
	sources      []string
	display      bool
	ratio        float64
	fov          bool
	recordPrefix string
)

func init() {
	// HighGUI windows must be driven from the thread that created them.
	runtime.LockOSThread()
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "camviz",
		Short: "Multi-camera live annotation and recording",
		Long: `camviz shows and records frames from named camera sources.
Registered overlays are drawn as colored markers, frames are rotated per
camera and written to <prefix>/<camera>.avi while recording is on.

Configuration comes from CAMVIZ_* environment variables (optionally read
from a .env file); flags override them.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load before reading CAMVIZ_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error); overrides CAMVIZ_LOG_LEVEL")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the processing loop and the control server",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Control server address (env: CAMVIZ_LISTEN_ADDR)")
	serveCmd.Flags().StringVar(&streamName, "stream", "", "Name of the global stream (env: CAMVIZ_STREAM)")
	serveCmd.Flags().StringSliceVar(&sources, "source", nil, "Frame source as name=uri, repeatable (env: CAMVIZ_SOURCES)\n\t\tExample: --source front=0 --source rear=v4l2:/dev/video2")
	serveCmd.Flags().BoolVar(&display, "display", false, "Start with windows on (env: CAMVIZ_DISPLAY)")
	serveCmd.Flags().Float64Var(&ratio, "ratio", 0, "Window downscale ratio, 0 for native size (env: CAMVIZ_RATIO)")
	serveCmd.Flags().BoolVar(&fov, "fov", false, "Draw the field-of-view circle (env: CAMVIZ_FOV)")
	serveCmd.Flags().StringVar(&recordPrefix, "record", "", "Start recording into this directory (env: CAMVIZ_RECORD_PREFIX)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Failed to execute command")
	}
}

// loadConfig reads the env file, the environment and then the flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("listen") {
		cfg.ListenAddr = listenAddr
	}
	if flags.Changed("stream") {
		cfg.Stream = streamName
	}
	if flags.Changed("source") {
		cfg.Sources = sources
	}
	if flags.Changed("display") {
		cfg.Display = display
	}
	if flags.Changed("ratio") {
		cfg.Ratio = ratio
	}
	if flags.Changed("fov") {
		cfg.FOV = fov
	}
	if flags.Changed("record") {
		cfg.RecordPrefix = recordPrefix
		cfg.Record = recordPrefix != ""
	}
	return cfg, cfg.Validate()
}

func serve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	srcs, err := cfg.ParseSources()
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version).
		Str("listen", cfg.ListenAddr).
		Str("stream", cfg.Stream).
		Int("sources", len(srcs)).
		Dur("tick", cfg.Tick).
		Str("log_level", cfg.Level().String()).
		Msg("Starting camviz")

	settings, err := pipeline.NewSettings(pipeline.Mode{
		Display: cfg.Display,
		Ratio:   cfg.Ratio,
		FOV:     cfg.FOV,
		Record:  cfg.Record,
		Prefix:  cfg.RecordPrefix,
	})
	if err != nil {
		return err
	}

	displays := sink.NewDisplays()
	closer := sink.NewDeferredCloser(displays)
	reg := registry.New(
		registry.WithLimits(cfg.MaxCameras, cfg.MaxOverlays),
		registry.WithGrace(cfg.Grace),
		registry.WithWindowCloser(closer),
	)
	frames := port.NewFrameStore()
	points := port.NewPointStore()
	stats := pipeline.NewStats()

	env := &pipeline.Env{
		Registry: reg,
		Frames:   frames,
		Points:   points,
		Displays: displays,
		Renderer: overlay.NewRenderer(cfg.MarkerRadius),
		Open:     sink.OpenVideoFile,
		FPS:      cfg.RecordFPS,
		Stats:    stats,
	}
	supervisor := pipeline.NewSupervisor(env, settings,
		pipeline.WithStream(cfg.Stream),
		pipeline.WithDeferredCloser(closer),
		pipeline.WithInterval(cfg.Tick),
		pipeline.WithReportEvery(cfg.ReportEvery),
	)

	svc := control.NewService(reg, settings, frames, points, stats, cfg.Stream)
	if cfg.RegisterSources {
		for _, src := range srcs {
			if src.Name == cfg.Stream {
				continue
			}
			if _, err := svc.AddCamera(src.Name); err != nil {
				return fmt.Errorf("failed to register source %s: %w", src.Name, err)
			}
		}
	}

	// Create context that cancels on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg conc.WaitGroup
	for _, src := range srcs {
		source := capture.New(src, frames)
		wg.Go(func() {
			if err := source.Run(ctx); err != nil {
				log.Error().Err(err).Str("component", "capture").Str("source", source.Name()).Msg("Capture stopped")
			}
		})
	}

	server := control.NewServer(svc, version)
	wg.Go(func() {
		if err := server.Run(ctx, cfg.ListenAddr); err != nil {
			log.Error().Err(err).Msg("Control server failed")
			cancel()
		}
	})

	// The loop owns every window, so it runs on the locked main thread.
	if err := supervisor.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Processing loop failed")
	}
	cancel()

	if r := wg.WaitAndRecover(); r != nil {
		log.Error().Err(r.AsError()).Msg("Worker panicked")
	}
	log.Info().Msg("camviz stopped")
	return nil
}
