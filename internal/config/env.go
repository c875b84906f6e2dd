package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// loadEnv applies CHAT_* environment variables.
func loadEnv(cfg *Config) error {
	strs := map[string]*string{
		"CHAT_HOST":           &cfg.Host,
		"CHAT_FRAMING":        &cfg.Framing,
		"CHAT_STORE_DRIVER":   &cfg.Store.Driver,
		"CHAT_STORE_URI":      &cfg.Store.URI,
		"CHAT_STORE_DATABASE": &cfg.Store.Database,
		"CHAT_HTTP_ADDR":      &cfg.HTTPAddr,
		"CHAT_LOG_LEVEL":      &cfg.LogLevel,
		"CHAT_LOG_FORMAT":     &cfg.LogFormat,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CHAT_PORT":             &cfg.Port,
		"CHAT_MAX_FRAME_SIZE":   &cfg.MaxFrameSize,
		"CHAT_HISTORY_LIMIT":    &cfg.HistoryLimit,
		"CHAT_STORE_QUEUE_SIZE": &cfg.Store.QueueSize,
		"CHAT_STORE_RETENTION":  &cfg.Store.Retention,
		"CHAT_CONN_LIMIT":       &cfg.ConnLimit,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"CHAT_WRITE_TIMEOUT": &cfg.WriteTimeout,
		"CHAT_HISTORY_PACE":  &cfg.HistoryPace,
		"CHAT_STORE_TIMEOUT": &cfg.Store.Timeout,
		"CHAT_CONN_WINDOW":   &cfg.ConnWindow,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv("CHAT_WEBSOCKET"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CHAT_WEBSOCKET: %w", err)
		}
		cfg.WebSocket = b
	}
	return nil
}
