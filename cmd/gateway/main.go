package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MatusOllah/slogcolor"
	"github.com/kabili207/mesh-chat-gateway/pkg/chat"
	"github.com/kabili207/mesh-chat-gateway/pkg/config"
	"github.com/kabili207/mesh-chat-gateway/pkg/radio"
	"github.com/kabili207/mesh-chat-gateway/pkg/relay"
	"github.com/kabili207/mesh-chat-gateway/pkg/routes"
	"github.com/kabili207/mesh-chat-gateway/pkg/store"
	"github.com/kabili207/mesh-chat-gateway/pkg/store/migrations"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logOpts := slogcolor.DefaultOptions
	if cfg.Debug {
		logOpts.Level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slogcolor.NewHandler(os.Stderr, logOpts)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Connect(cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.Up(db.DB); err != nil {
		slog.Error("failed to run database migrations", "error", err)
		os.Exit(1)
	}
	dir := store.NewNodeDirectory(db)

	channels := make([]radio.Channel, len(cfg.MeshSettings.Channels))
	for i, ch := range cfg.MeshSettings.Channels {
		channels[i] = radio.Channel{Name: ch.Name, Key: ch.Key}
	}
	conn, err := radio.NewMQTTConn(radio.MQTTOptions{
		BrokerURL:      cfg.MeshSettings.MqttAddress,
		Username:       cfg.MeshSettings.User,
		Password:       cfg.MeshSettings.Password,
		TopicRoot:      cfg.MeshSettings.MqttRoot,
		Channels:       channels,
		PrimaryChannel: cfg.MeshSettings.PrimaryChannel,
		SelfNode:       cfg.MeshSettings.SelfNode.NodeID,
		HopLimit:       int(cfg.MeshSettings.HopLimit),
	})
	if err != nil {
		slog.Error("invalid mesh settings", "error", err)
		os.Exit(1)
	}
	if err := conn.Connect(); err != nil {
		slog.Error("failed to connect to MQTT broker", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	chatConn := chat.NewMattermost(chat.MattermostOptions{
		ServerURL: cfg.Chat.ServerURL,
		Token:     cfg.Chat.Token,
	})
	if err := chatConn.Connect(ctx); err != nil {
		slog.Error("failed to connect to chat server", "error", err)
		os.Exit(1)
	}
	defer chatConn.Close()

	router := relay.NewRouter(dir, conn, conn.Snapshot(), chatConn, cfg.Chat.Room)
	defer router.Close()
	bridge := relay.NewBridge(conn, conn.Snapshot(), chatConn, cfg.Chat.Room)

	if cfg.WebApp.Enabled {
		wr := routes.NewWebRouter(cfg.WebApp, conn.Snapshot(), dir)
		router.Notify = wr.Notifier.Notify
		go func() {
			if err := wr.ListenAndServe(); err != nil {
				slog.Error("web server stopped", "error", err)
			}
		}()
		slog.Info("web dashboard enabled", "listen_addr", cfg.WebApp.ListenAddr)
	}

	go router.Run(ctx, conn.Packets())
	go bridge.Run(ctx, chatConn.Events())

	slog.Info("gateway running",
		"self_node", cfg.MeshSettings.SelfNode.NodeID,
		"room", cfg.Chat.Room)

	<-ctx.Done()
	slog.Info("shutting down")
}
