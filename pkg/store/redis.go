package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisDisabled is returned by NewRedis when no address is configured.
var ErrRedisDisabled = errors.New("redis: REDIS_ADDR not set")

type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	TLS        bool
	RequireTLS bool
	Insecure   bool
	AllowInsec bool
	ServerName string
	CAFile     string
	CertFile   string
	KeyFile    string
}

// RedisConfigFromEnv reads REDIS_* variables. An empty REDIS_ADDR disables
// Redis and services fall back to the in-memory cache.
func RedisConfigFromEnv() RedisConfig {
	cfg := RedisConfig{
		Addr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password:   os.Getenv("REDIS_PASSWORD"),
		TLS:        isTrue(os.Getenv("REDIS_TLS")),
		RequireTLS: isTrue(os.Getenv("REDIS_REQUIRE_TLS")),
		Insecure:   isTrue(os.Getenv("REDIS_TLS_INSECURE")),
		AllowInsec: isTrue(os.Getenv("REDIS_ALLOW_INSECURE_TLS")),
		ServerName: strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME")),
		CAFile:     strings.TrimSpace(os.Getenv("REDIS_TLS_CA_CERT_FILE")),
		CertFile:   strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE")),
		KeyFile:    strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE")),
	}
	if raw := os.Getenv("REDIS_DB"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			cfg.DB = parsed
		}
	}
	return cfg
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, ErrRedisDisabled
	}
	tlsConfig, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	if cfg.RequireTLS && tlsConfig == nil {
		return nil, fmt.Errorf("REDIS_REQUIRE_TLS=true but REDIS_TLS is not enabled")
	}
	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConfig,
	})
	ctxPing, cancel := context.WithTimeout(ctx, time.Second*2)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c RedisConfig) tlsConfig() (*tls.Config, error) {
	if !c.TLS {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.Insecure {
		if !c.AllowInsec {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE=true requires REDIS_ALLOW_INSECURE_TLS=true")
		}
		cfg.InsecureSkipVerify = true
	}
	if c.ServerName != "" {
		cfg.ServerName = c.ServerName
	}
	if c.CAFile != "" {
		caBytes, err := os.ReadFile(filepath.Clean(c.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_CERT_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("parse REDIS_TLS_CA_CERT_FILE: no valid certificates")
		}
		cfg.RootCAs = pool
	}
	if c.CertFile != "" || c.KeyFile != "" {
		if c.CertFile == "" || c.KeyFile == "" {
			return nil, fmt.Errorf("both REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set")
		}
		cert, err := tls.LoadX509KeyPair(filepath.Clean(c.CertFile), filepath.Clean(c.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis mTLS keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func isTrue(raw string) bool {
	raw = strings.TrimSpace(strings.ToLower(raw))
	return raw == "1" || raw == "true" || raw == "yes" || raw == "on"
}
