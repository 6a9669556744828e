package logging

import (
	"fmt"
	"os"
	"sync"

	"logrelay/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalFileLogger  *zap.Logger
	globalRelayLogger *zap.Logger // Can be Nop when the relay core is disabled
	globalLoggersMu   sync.RWMutex
)

// AppLoggers holds the different logger instances for the application.
type AppLoggers struct {
	File  *zap.Logger // For general logging (console, file)
	Relay *zap.Logger // Additionally feeds entries into the log hub (can be Nop if disabled)
}

// Custom level encoder function
func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]") // Format with brackets
}

// Custom level encoder function with color for console
func customColorLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var colorPrefix, colorSuffix string
	switch level {
	case zapcore.DebugLevel:
		colorPrefix = "\x1b[35m" // Magenta
		colorSuffix = "\x1b[0m"
	case zapcore.InfoLevel:
		colorPrefix = "\x1b[32m" // Green
		colorSuffix = "\x1b[0m"
	case zapcore.WarnLevel:
		colorPrefix = "\x1b[33m" // Yellow
		colorSuffix = "\x1b[0m"
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		colorPrefix = "\x1b[31m" // Red
		colorSuffix = "\x1b[0m"
	default:
		colorPrefix = ""
		colorSuffix = ""
	}
	enc.AppendString(colorPrefix + "[" + level.CapitalString() + "]" + colorSuffix)
}

// CreateFileConsoleEncoderConfigs sets up the encoder configurations.
func CreateFileConsoleEncoderConfigs() (zapcore.EncoderConfig, zapcore.EncoderConfig) {
	// Console Encoder (human-readable, colored)
	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.EncodeLevel = customColorLevelEncoder
	consoleEncoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoderCfg.EncodeCaller = zapcore.ShortCallerEncoder

	// File Encoder
	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.EncodeLevel = customLevelEncoder
	fileEncoderCfg.TimeKey = "timestamp"
	fileEncoderCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	fileEncoderCfg.EncodeCaller = zapcore.ShortCallerEncoder

	return consoleEncoderCfg, fileEncoderCfg
}

// InitializeFileLogger creates the file/console application logger. The relay
// logger is assembled later in bootstrap, once the hub exists.
func InitializeFileLogger(cfg *config.Config, fileSyncer zapcore.WriteSyncer) (*zap.Logger, error) {
	var fileLogLevel zapcore.Level
	if err := fileLogLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Invalid LOG_LEVEL '%s' for file/console logger, defaulting to info: %v\n", cfg.LogLevel, err)
		fileLogLevel = zapcore.InfoLevel
	}

	consoleEncoderCfg, fileEncoderCfg := CreateFileConsoleEncoderConfigs()
	consoleSyncer := zapcore.Lock(os.Stdout)

	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderCfg), consoleSyncer, fileLogLevel)
	// Plain text with bracketed levels in the file as well
	fileOutputCore := zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderCfg), fileSyncer, fileLogLevel)

	fileAndConsoleLoggerCore := zapcore.NewTee(consoleCore, fileOutputCore)
	logger := zap.New(fileAndConsoleLoggerCore, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	logger.Info("======================================================================================")
	logger.Info("File/Console application logger initialized",
		zap.String("environment", cfg.AppEnv),
		zap.String("configuredLevel", cfg.LogLevel),
		zap.String("effectiveLevel", fileLogLevel.String()),
		zap.String("logFile", cfg.LogFilePath),
	)
	return logger, nil
}

// --- Global Logger Access ---

// SetGlobalLoggers sets the global logger instances.
func SetGlobalLoggers(fileLogger, relayLogger *zap.Logger) {
	globalLoggersMu.Lock()
	defer globalLoggersMu.Unlock()
	globalFileLogger = fileLogger
	if relayLogger != nil {
		globalRelayLogger = relayLogger
	} else {
		globalRelayLogger = zap.NewNop() // Ensure it's not nil
	}
}

// GetFileLogger returns the initialized global file/console logger.
func GetFileLogger() *zap.Logger {
	globalLoggersMu.RLock()
	l := globalFileLogger
	globalLoggersMu.RUnlock()

	if l == nil {
		fallbackLogger, _ := zap.NewProduction()
		fallbackLogger.Warn("Global file/console logger accessed before being set!")
		return fallbackLogger
	}
	return l
}

// GetRelayLogger returns the initialized global relay logger.
// Returns a Nop logger if relay logging was disabled or not initialized.
func GetRelayLogger() *zap.Logger {
	globalLoggersMu.RLock()
	l := globalRelayLogger
	globalLoggersMu.RUnlock()

	if l == nil {
		return zap.NewNop()
	}
	return l
}
