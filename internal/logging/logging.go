package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pattern-analysis-service/internal/config"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the global logger at stderr and a rotating file in
// cfg.Directory. The returned closer flushes the file sink.
func Setup(cfg config.LoggingConfig, serviceName string) (io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	isTerminal := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !isTerminal,
	}

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		log.Logger = zerolog.New(consoleWriter).With().Timestamp().Str("service", serviceName).Logger()
		return io.NopCloser(nil), fmt.Errorf("failed to create log directory: %w", err)
	}

	fileWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, serviceName+".log"),
		MaxSize:    16, // megabytes
		MaxBackups: 32,
		MaxAge:     90, // days
		Compress:   true,
	}

	multi := zerolog.MultiLevelWriter(io.Writer(consoleWriter), fileWriter)
	log.Logger = zerolog.New(multi).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()

	return fileWriter, nil
}
