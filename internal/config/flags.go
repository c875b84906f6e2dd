package config

import (
	"flag"
	"io"
	"strings"
)

// configPath extracts the value of -config / -c from args without
// parsing any other flag.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(strings.TrimLeft(args[i], "-"), "=")
		if !strings.HasPrefix(args[i], "-") || (name != "config" && name != "c") {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// parseFlags overlays command-line flags onto cfg. Flags that are not
// given keep the value set by earlier layers.
func parseFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("chatrelay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var ignored string
	fs.StringVar(&ignored, "config", "", "path to YAML config file")
	fs.StringVar(&ignored, "c", "", "path to YAML config file (short)")

	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "listen port")
	fs.StringVar(&cfg.Framing, "framing", cfg.Framing, "frame delimiting: line or legacy")
	fs.IntVar(&cfg.MaxFrameSize, "max-frame", cfg.MaxFrameSize, "maximum frame size in bytes")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "per-frame write timeout")
	fs.IntVar(&cfg.HistoryLimit, "history", cfg.HistoryLimit, "messages replayed to new clients")
	fs.DurationVar(&cfg.HistoryPace, "history-pace", cfg.HistoryPace, "delay between replayed messages")
	fs.StringVar(&cfg.Store.Driver, "store", cfg.Store.Driver, "store driver: mongo, redis, postgres, memory")
	fs.StringVar(&cfg.Store.URI, "store-uri", cfg.Store.URI, "store address")
	fs.StringVar(&cfg.Store.Database, "store-db", cfg.Store.Database, "store database name")
	fs.DurationVar(&cfg.Store.Timeout, "store-timeout", cfg.Store.Timeout, "awaited store call timeout (0 waits forever)")
	fs.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "operational HTTP address (empty disables)")
	fs.BoolVar(&cfg.WebSocket, "ws", cfg.WebSocket, "serve the chat protocol on /ws")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format: text or json")
	fs.IntVar(&cfg.ConnLimit, "conn-limit", cfg.ConnLimit, "connection attempts per host per window (0 disables)")

	return fs.Parse(args)
}
