package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/streamd/internal/artwork"
	"github.com/austinkregel/local-media/streamd/internal/audio"
	"github.com/austinkregel/local-media/streamd/internal/catalog"
	"github.com/austinkregel/local-media/streamd/internal/config"
	"github.com/austinkregel/local-media/streamd/internal/ipc"
	"github.com/austinkregel/local-media/streamd/internal/logger"
	"github.com/austinkregel/local-media/streamd/internal/lyric"
	"github.com/austinkregel/local-media/streamd/internal/media"
	"github.com/austinkregel/local-media/streamd/internal/queue"
	"github.com/austinkregel/local-media/streamd/internal/resolver"
	"github.com/austinkregel/local-media/streamd/internal/session"
	"github.com/austinkregel/local-media/streamd/internal/sleeptimer"
	"github.com/austinkregel/local-media/streamd/internal/store"
)

type flags struct {
	configDir  string
	socketPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "streamd",
		Short:         "Headless streaming playback daemon",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return f.defaults()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, f)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&f.configDir, "config", "", "Configuration directory (default: ~/.config/streamd)")
	pf.StringVar(&f.socketPath, "socket", "", "IPC socket path (default: /tmp/streamd-<uid>.sock)")
	pf.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(newResolveCmd(f), newLyricCmd(f))
	return cmd
}

func (f *flags) defaults() error {
	if f.configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		f.configDir = filepath.Join(home, ".config", "streamd")
	}
	if f.socketPath == "" {
		f.socketPath = fmt.Sprintf("/tmp/streamd-%d.sock", os.Getuid())
	}
	return nil
}

// setup loads the configuration and builds the logger
func setup(f *flags) (*config.Manager, *zap.Logger, error) {
	mgr := config.NewManager(f.configDir)
	if err := mgr.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logCfg := mgr.Get().Log
	if f.verbose {
		logCfg.Level = "debug"
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return mgr, log, nil
}

type catalogs struct {
	netease *catalog.Netease
	unblock *catalog.Unblock
	kuwo    *catalog.Kuwo
}

func newCatalogs(cfg config.SourcesConfig, log *zap.Logger) catalogs {
	opts := []catalog.Option{
		catalog.WithLogger(log),
		catalog.WithTimeout(cfg.RequestTimeout.Std()),
		catalog.WithRetry(cfg.MaxRetries, time.Second),
	}
	c := catalogs{
		netease: catalog.NewNetease(cfg.NeteaseAPI, cfg.Cookie, opts...),
		unblock: catalog.NewUnblock(cfg.UnblockAPI, opts...),
		kuwo:    catalog.NewKuwo(cfg.KuwoAPI, opts...),
	}
	if cfg.Quality != "" {
		c.netease.SetQuality(cfg.Quality)
	}
	return c
}

func newResolver(cfg config.SourcesConfig, c catalogs, log *zap.Logger) *resolver.Resolver {
	return resolver.New(resolver.Options{
		Primary:        c.netease,
		Unblocker:      c.unblock,
		Secondary:      c.kuwo,
		EnableUnblock:  cfg.EnableUnblock,
		UnblockTimeout: cfg.UnblockTimeout.Std(),
		Quality:        cfg.Quality,
		Logger:         log,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "file":
		return store.NewFileStore(cfg.DataDir)
	case "redis":
		sc := cfg.Store
		return store.DialRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func run(ctx context.Context, f *flags) error {
	mgr, log, err := setup(f)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := mgr.Get()
	log.Info("streamd starting", zap.String("version", Version), zap.String("config", mgr.GetPath()))

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	mediaSession, err := media.NewSession(log)
	if err != nil {
		log.Warn("continuing without OS media integration", zap.Error(err))
		mediaSession = media.NewNoOpSession()
	}
	defer mediaSession.Close()

	device, err := audio.NewStreamDevice(audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels}, log.Named("device"))
	if err != nil {
		return fmt.Errorf("failed to initialize audio device: %w", err)
	}
	device.SetVolume(cfg.Audio.DefaultVolume)

	preloader := audio.NewPreloader(device, audio.DefaultPreloadLimit, log)
	transport := audio.NewTransport(device, audio.Options{
		LockTimeout:  cfg.Audio.LockTimeout.Std(),
		SeekDebounce: cfg.Audio.SeekDebounce.Std(),
		Media:        mediaSession,
		Store:        st,
		Preloader:    preloader,
		Logger:       log.Named("transport"),
	})
	defer transport.Close()

	cats := newCatalogs(cfg.Sources, log)
	res := newResolver(cfg.Sources, cats, log)

	sess := session.New(session.Options{
		Transport:      transport,
		Preloader:      preloader,
		Resolver:       res,
		Lyrics:         lyric.NewLoader(cats.netease, cats.kuwo, log),
		Colors:         artwork.NewExtractor(nil, log),
		Favorites:      cats.netease,
		Queue:          queue.NewManager(),
		Sleep:          sleeptimer.New(transport, st, log),
		Media:          mediaSession,
		Store:          st,
		Logger:         log,
		AutoPlay:       cfg.Playback.AutoPlay,
		UserID:         cfg.Sources.UserID,
		PreloadDelay:   cfg.Playback.PreloadDelay.Std(),
		LockRetryDelay: cfg.Playback.LockRetry.Std(),
	})
	defer sess.Close()

	if err := sess.InitializeFavorites(ctx); err != nil {
		log.Warn("failed to load favorites", zap.Error(err))
	}
	if err := sess.InitializePlayState(ctx); err != nil {
		log.Warn("failed to restore play state", zap.Error(err))
	}

	go func() {
		err := mgr.Watch(ctx, func(c *config.Config) {
			res.SetUnblockEnabled(c.Sources.EnableUnblock)
			log.Info("config reloaded", zap.Bool("enableUnblock", c.Sources.EnableUnblock))
		}, func(err error) {
			log.Warn("config reload failed", zap.Error(err))
		})
		if err != nil {
			log.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	server := ipc.NewServer(f.socketPath, sess, log)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("IPC server error: %w", err)
	}
	log.Info("streamd stopped")
	return nil
}
