package utils

import (
	"fmt"

	"logrelay/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TraceConfigDetails(logger *zap.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		fmt.Println("[WARN] logger or config is nil in TraceConfigDetails")
		return
	}
	fields := []zapcore.Field{
		zap.String("AppEnv", cfg.AppEnv),
		zap.String("Port", cfg.Port),
		zap.String("SQLiteDBPath", cfg.SQLiteDBPath),
		zap.Int("HistoryLimit", cfg.HistoryLimit),
		zap.String("AssetsDir", cfg.AssetsDir),
		zap.Duration("WSWriteWait", cfg.WSWriteWait),
		zap.Duration("TrimInterval", cfg.TrimInterval),
		zap.String("LogFilePath", cfg.LogFilePath),
		zap.String("LogLevel", cfg.LogLevel),
		zap.Int("LogRotateIntervalHours", cfg.LogRotateInterval),
		zap.Int("LogMaxSizeMB", cfg.LogMaxSize),
		zap.Int("LogMaxBackups", cfg.LogMaxBackups),
		zap.Int("LogMaxAgeDays", cfg.LogMaxAge),
		zap.Bool("LogCompress", cfg.LogCompress),
		zap.Bool("RelayLog_Enabled", cfg.RelayLogEnabled),
		zap.String("RelayLog_Level", cfg.RelayLogLevel),
		zap.String("CORS_AllowOrigins", cfg.CORSAllowOrigins),
		zap.String("CORS_AllowMethods", cfg.CORSAllowMethods),
		zap.String("CORS_AllowHeaders", cfg.CORSAllowHeaders),
	}
	logger.Debug("Loaded application configuration details", fields...)
}
