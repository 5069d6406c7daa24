package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/registry"
)

type config struct {
	selfID         address.Address
	selfAddr       string
	listenAddr     string
	etcdEndpoints  []string
	prefix         string
	leaseTTL       int64
	pendingBytes   int
	pendingTTL     time.Duration
	digestInterval time.Duration
	logLevel       zapcore.Level
}

func loadConfig() (config, error) {
	cfg := config{
		selfID:        address.Address(os.Getenv("SELF_ID")),
		selfAddr:      os.Getenv("SELF_ADDR"),
		listenAddr:    envString("LISTEN_ADDR", ":8080"),
		etcdEndpoints: strings.Split(envString("ETCD_ENDPOINTS", "http://etcd:2379"), ","),
		prefix:        envString("REGISTRY_PREFIX", registry.DefaultPrefix),
	}
	if cfg.selfID.IsZero() {
		cfg.selfID = address.NewRandom("node")
	}
	if cfg.selfAddr == "" {
		cfg.selfAddr = string(cfg.selfID)
	}

	var err error
	if cfg.leaseTTL, err = envInt("LEASE_TTL", 10); err != nil {
		return cfg, err
	}
	pending, err := envInt("PENDING_BYTES", 1<<20)
	if err != nil {
		return cfg, err
	}
	cfg.pendingBytes = int(pending)
	if cfg.pendingTTL, err = envDuration("PENDING_TTL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.digestInterval, err = envDuration("DIGEST_INTERVAL", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.logLevel, err = zapcore.ParseLevel(envString("LOG_LEVEL", "info")); err != nil {
		return cfg, errors.Wrap(err, "LOG_LEVEL")
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("%s: want a positive integer, got %q", key, v)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, errors.Errorf("%s: want a positive duration, got %q", key, v)
	}
	return d, nil
}

func newLogger(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
