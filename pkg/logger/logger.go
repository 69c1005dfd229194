package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// logger 是一个全局 logger 实例
	logger = zap.NewNop()
	once   sync.Once
)

// Init 初始化日志系统。outputPath 为空时只输出到控制台。
func Init(level string, outputPath string) error {
	var initErr error
	once.Do(func() {
		logLevel := parseLevel(level)

		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

		cores := []zapcore.Core{
			zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(os.Stdout), logLevel),
		}

		if outputPath != "" {
			if err := os.MkdirAll(outputPath, 0755); err != nil {
				initErr = fmt.Errorf("无法创建日志目录: %w", err)
				return
			}

			fileCore, err := newFileCore(filepath.Join(outputPath, "app.log"), encoderConfig, logLevel)
			if err != nil {
				initErr = err
				return
			}
			cores = append(cores, fileCore)

			// 错误文件只记录错误及以上级别
			errorCore, err := newFileCore(filepath.Join(outputPath, "error.log"), encoderConfig, zapcore.ErrorLevel)
			if err != nil {
				initErr = err
				return
			}
			cores = append(cores, errorCore)
		}

		Replace(zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel)))
	})
	return initErr
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func newFileCore(path string, encoderConfig zapcore.EncoderConfig, level zapcore.LevelEnabler) (zapcore.Core, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("无法打开日志文件 %s: %w", path, err)
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(f), level), nil
}

// Debug 记录调试信息
func Debug(msg string, fields ...zap.Field) {
	logger.Debug(msg, fields...)
}

// Info 记录一般信息
func Info(msg string, fields ...zap.Field) {
	logger.Info(msg, fields...)
}

// Warn 记录警告信息
func Warn(msg string, fields ...zap.Field) {
	logger.Warn(msg, fields...)
}

// Error 记录错误信息
func Error(msg string, fields ...zap.Field) {
	logger.Error(msg, fields...)
}

// Fatal 记录致命错误并退出程序
func Fatal(msg string, fields ...zap.Field) {
	logger.Fatal(msg, fields...)
}

// WithFields 返回带有字段的日志接口
func WithFields(fields ...zap.Field) *zap.Logger {
	return logger.WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

// Replace 替换全局 logger，返回恢复之前实例的函数。
// l 应带有 zap.AddCallerSkip(1)，以便调用位置指向包级函数的调用方。
func Replace(l *zap.Logger) func() {
	prev := logger
	logger = l
	return func() { logger = prev }
}

// Sync 刷新日志缓冲
func Sync() {
	_ = logger.Sync()
}
