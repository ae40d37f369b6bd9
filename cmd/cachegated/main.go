package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/cachegate/cachegate"
	"github.com/cachegate/cachegate/log"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to yaml/json config file")
	flag.Parse()

	l := log.NewLogger(log.InfoLevel, os.Stderr)

	loader, cfg, err := cachegate.NewConfigLoader(configPath, l)
	if err != nil {
		l.Fatal("config load error: ", err)
	}
	if lvl, err := log.LevelFromString(cfg.LogLevel); err == nil {
		l = log.NewLogger(lvl, os.Stderr)
	}
	l.Debugf("Config: %#v", cfg)

	m := cachegate.NewMetrics()
	s := cachegate.NewServer(cfg, l, m)
	if configPath != "" {
		loader.Watch(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		l.Info("shutdown signal received")
		cancel()
	}()

	l.Infof("serving clients on %s, admin on %s", s.Addr, s.AdminAddr)
	if err := s.Run(ctx); err != nil {
		l.Fatal("serve error: ", err)
	}
}
