// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type ZoneFeedCfg struct {
	Enabled    bool
	Topic      string
	Brokers    string
	GroupID    string
	DedupeSize int
}

type Config struct {
	Addr         string
	LogLevel     string
	BackendURL   string
	BackendToken string
	RedisAddr    string
	DatabaseURL  string
	ZonesPath    string

	H3Res         int
	H3IndexOn     bool
	ZoneCacheSize int

	PollInterval time.Duration
	WaitDeadline time.Duration
	RetryMax     int

	ZoneFeed ZoneFeedCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 7)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:         getenv("ADDR", ":8090"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		BackendURL:   getenv("BACKEND_URL", "http://localhost:8080"),
		BackendToken: getenv("BACKEND_TOKEN", ""),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		DatabaseURL:  getenv("DATABASE_URL", ""),
		ZonesPath:    getenv("ZONES_PATH", "./zones"),

		H3Res:         res,
		H3IndexOn:     getbool("H3_INDEX_ENABLED", true),
		ZoneCacheSize: getint("ZONE_CACHE_SIZE", 128),

		PollInterval: getduration("POLL_INTERVAL", 110*time.Second),
		WaitDeadline: getduration("WAIT_DEADLINE", 600*time.Second),
		RetryMax:     getint("RETRY_MAX", 3),

		ZoneFeed: ZoneFeedCfg{
			Enabled: getbool("ZONE_FEED_ENABLED", false),
			Topic:   getenv("KAFKA_TOPIC", "zone-updates"),
			Brokers:    getenv("KAFKA_BROKERS", "localhost:9092"),
			GroupID:    getenv("KAFKA_GROUP_ID", "dispatch-zone-feed"),
			DedupeSize: getint("ZONE_FEED_DEDUPE_SIZE", 4096),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
