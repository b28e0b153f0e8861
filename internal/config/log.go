package config

import (
	"io"
	"log/slog"
)

// SetupLog installs a global slog logger writing to w whose level follows LOG_LEVEL changes.
func SetupLog(cfg *Config, w io.Writer) *slog.LevelVar {
	lv := new(slog.LevelVar)
	cfg.OnLogLevelChange(func(level slog.Level) { lv.Set(level) })
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv})))
	return lv
}
