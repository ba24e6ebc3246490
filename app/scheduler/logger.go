package scheduler

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/amirphl/massdispatch/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the scheduler logger. Depending on cfg.Output it writes to stdout, to a
// size-rotated file, or to both. The returned closer releases the file; it is never nil.
func NewLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer) {
	const flags = log.LstdFlags | log.Lmicroseconds | log.LUTC

	if cfg.Output == "stdout" || cfg.FilePath == "" {
		return log.New(os.Stdout, "", flags), io.NopCloser(nil)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		l := log.New(os.Stdout, "", flags)
		l.Printf("scheduler: failed to create log directory for %s: %v", cfg.FilePath, err)
		return l, io.NopCloser(nil)
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  false,
	}

	var w io.Writer = rotating
	if cfg.Output == "both" {
		w = io.MultiWriter(os.Stdout, rotating)
	}
	// log.Logger is goroutine-safe
	return log.New(w, "", flags), rotating
}
