package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pelletier/go-toml"
	"github.com/wHoIsDReAmer/Pumpkin/server"
	"github.com/wHoIsDReAmer/Pumpkin/server/console"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the server configuration")
	flag.Parse()

	uc, err := readConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read config:", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: server.ParseLogLevel(uc.Server.LogLevel)}))
	slog.SetDefault(log)

	conf, err := uc.Config(log)
	if err != nil {
		log.Error("Invalid configuration.", "err", err)
		os.Exit(1)
	}
	srv, err := conf.New()
	if err != nil {
		log.Error("Could not start server.", "err", err)
		os.Exit(1)
	}
	log.Info("Server started.", "name", srv.Name(), "worlds", len(srv.Worlds()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go console.New(srv, log).WithStop(stop).Run(ctx)
	<-ctx.Done()

	log.Info("Stopping server...")
	if err := srv.Close(); err != nil {
		log.Error("Close server.", "err", err)
		os.Exit(1)
	}
}

// readConfig reads the configuration from the file at path. If the file does
// not exist, the default configuration is written to it.
func readConfig(path string) (server.UserConfig, error) {
	c := server.DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		data, err := toml.Marshal(c)
		if err != nil {
			return c, fmt.Errorf("encode default config: %v", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return c, fmt.Errorf("create default config: %v", err)
		}
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %v", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("decode config: %v", err)
	}
	return c, nil
}
