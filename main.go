package main

import (
	"bufio"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/gablg1/http-sucks-chat/chat"
	"github.com/gablg1/http-sucks-chat/config"
	"github.com/gablg1/http-sucks-chat/server"
	"github.com/gablg1/http-sucks-chat/store"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}).With().Timestamp().Str("app", "http-sucks-chat").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	core := chat.NewCore(st, logger.With().Str("component", "chat").Logger())
	srv := server.New(core, &server.Config{
		Addr:         cfg.Addr,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}, logger.With().Str("component", "server").Logger())

	go startControlSocket(srv, cfg.ControlSocket, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
		os.Remove(cfg.ControlSocket)
	}()

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.Backend == "memory" {
		return store.NewMemoryStore(), nil
	}
	return store.NewSQLiteStore(cfg.DBPath)
}

// startControlSocket serves management commands over a unix socket:
// "stats" reports the online users, "shutdown" stops the server.
func startControlSocket(srv *server.Server, path string, logger zerolog.Logger) {
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Warn().Err(err).Msg("control socket unavailable")
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	logger.Info().Str("path", path).Msg("control socket listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(srv, conn, path, logger)
	}
}

func handleControlCommand(srv *server.Server, conn net.Conn, path string, logger zerolog.Logger) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}

	switch strings.TrimSpace(line) {
	case "stats":
		users := srv.OnlineUsers()
		conn.Write([]byte("OK|online=" + strings.Join(users, ";") + "\n"))

	case "shutdown":
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		logger.Info().Msg("shutdown requested via control socket")
		srv.Stop()
		os.Remove(path)
		os.Exit(0)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
