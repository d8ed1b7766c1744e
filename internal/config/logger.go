package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// NewLogger builds the process logger from log.level and log.format.
func NewLogger(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(v.GetString("log.level"))
	if err != nil {
		return nil, err
	}

	options := &slog.HandlerOptions{Level: level}
	switch format := strings.ToLower(v.GetString("log.format")); format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, options)), nil
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", format)
	}
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
