package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/groovebox-bot/groovebox/internal/api"
	"github.com/groovebox-bot/groovebox/internal/app/playlist"
	"github.com/groovebox-bot/groovebox/internal/app/session"
	"github.com/groovebox-bot/groovebox/internal/app/settings"
	"github.com/groovebox-bot/groovebox/internal/command"
	"github.com/groovebox-bot/groovebox/internal/engine/lavalink"
	"github.com/groovebox-bot/groovebox/internal/gateway/discord"
	"github.com/groovebox-bot/groovebox/internal/infra/config"
	"github.com/groovebox-bot/groovebox/internal/infra/logger"
	"github.com/groovebox-bot/groovebox/internal/infra/store"
)

const shutdownTimeout = 15 * time.Second

var (
	app        = kingpin.New("groovebox", "Multi-guild music playback coordinator for Discord.")
	configPath = app.Flag("config", "Path to the YAML config file.").Short('c').Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable debug logging.").Short('v').Bool()
	logfile    = app.Flag("logfile", "Write logs to a file instead of stdout.").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// Missing .env is fine; the config file may carry everything.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("failed to load config: %v", err)
	}

	logCfg := logger.Config{Output: cfg.Logging.Output, Level: cfg.Logging.Level}
	if *verbose {
		logCfg.Level = "debug"
	}
	if *logfile != "" {
		logCfg.Output = *logfile
	}
	if err := logger.Init(logCfg); err != nil {
		zlog.Fatal().Msgf("failed to initialize logger: %v", err)
	}

	if err := run(cfg); err != nil {
		zlog.Fatal().Msgf("server exited with error: %v", err)
	}
}

func run(cfg *config.Config) error {
	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return errors.Wrap(err, "failed to create discord session")
	}

	// The engine websocket handshake needs the bot user id before the
	// gateway opens, so fetch it over REST.
	me, err := dg.User("@me")
	if err != nil {
		return errors.Wrap(err, "failed to fetch bot user")
	}

	bot := discord.NewBot(dg)

	node := lavalink.NewNode(lavalink.Config{
		Address:  cfg.Lavalink.Address,
		Password: cfg.Lavalink.Password,
		UserID:   me.ID,
		NodeID:   cfg.Lavalink.NodeID,
		Secure:   cfg.Lavalink.Secure,
	}, bot)

	primary, secondary, playlists := buildStores(cfg)
	resolver := settings.NewResolver(primary, secondary, bot)

	sessCfg := session.Config{
		IdleStages: session.IdleStages{
			Warn1Min:   time.Duration(cfg.Session.IdleWarn1MinSec) * time.Second,
			Warn30Sec:  time.Duration(cfg.Session.IdleWarn30SecSec) * time.Second,
			Disconnect: time.Duration(cfg.Session.IdleDisconnectSec) * time.Second,
		},
		QueueEndGrace: time.Duration(cfg.Session.QueueEndGraceSec) * time.Second,
	}
	registry := session.NewRegistry(sessCfg, node, bot, bot, resolver)
	handler := command.NewHandler(registry, node, resolver, playlists)
	bot.Bind(handler, node, registry)

	node.Start()
	go registry.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := bot.Start(ctx); err != nil {
		return err
	}

	apiServer := api.NewServer(cfg.API.Addr, registry, handler, resolver)
	apiErrCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			apiErrCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Msgf("received signal, shutting down: signal=%v", sig)
	case err := <-apiErrCh:
		zlog.Error().Msgf("api server failed: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Msgf("api shutdown incomplete: %v", err)
	}
	registry.Shutdown(shutdownCtx)
	node.Stop()
	if err := bot.Stop(); err != nil {
		zlog.Warn().Msgf("discord shutdown incomplete: %v", err)
	}
	zlog.Info().Msg("shutdown complete")
	return nil
}

// buildStores assembles the settings persistence pair and the playlist
// store. A failed MySQL connection degrades to the secondary store instead
// of aborting startup; playlists fall back to an in-process store.
func buildStores(cfg *config.Config) (settings.Store, settings.Store, playlist.Store) {
	var (
		primary   settings.Store
		playlists playlist.Store
	)
	if cfg.Database.DSN != "" {
		mysql, err := store.NewMySQL(cfg.Database.DSN)
		if err != nil {
			zlog.Warn().Msgf("mysql unavailable, falling back to secondary store: %v", err)
		} else {
			primary = mysql
			playlists = mysql.Playlists()
		}
	}

	var secondary settings.Store
	if cfg.Redis.Addr != "" {
		secondary = store.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	} else {
		secondary = store.NewMemory()
	}

	if primary == nil {
		primary = secondary
		secondary = nil
	}
	if playlists == nil {
		playlists = store.NewPlaylistMemory()
	}
	return primary, secondary, playlists
}
