package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerConfig содержит настройки логгера
type LoggerConfig struct {
	// Level минимальный уровень: debug, info, warn, error
	Level string `mapstructure:"level"`
	// File путь к лог-файлу; пустая строка отключает запись в файл.
	// Шаблон {date} заменяется текущей датой.
	File string `mapstructure:"file"`
	// Verbose включает отладочные сообщения независимо от Level
	Verbose bool `mapstructure:"verbose"`
}

// ETLLogger представляет логгер для процесса синхронизации хранилища
type ETLLogger struct {
	sugar     *zap.SugaredLogger
	base      *zap.Logger
	isVerbose bool
}

// NewETLLogger создает логгер, пишущий в stdout и (опционально) в файл
func NewETLLogger(cfg LoggerConfig) (*ETLLogger, error) {
	level := parseLevel(cfg.Level)
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig())
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), level),
	}

	if cfg.File != "" {
		fileName := strings.ReplaceAll(cfg.File, "{date}", time.Now().Format("2006-01-02"))
		file, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("не удалось открыть или создать файл лога: %w", err)
		}
		jsonEncoder := zapcore.NewJSONEncoder(encoderConfig())
		cores = append(cores, zapcore.NewCore(jsonEncoder, zapcore.AddSync(file), level))
	}

	base := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	return NewETLLoggerFromZap(base, cfg.Verbose), nil
}

// NewETLLoggerFromZap оборачивает готовый zap-логгер
func NewETLLoggerFromZap(base *zap.Logger, verbose bool) *ETLLogger {
	return &ETLLogger{
		sugar:     base.Sugar(),
		base:      base,
		isVerbose: verbose,
	}
}

// NewNopLogger возвращает логгер, который ничего не пишет
func NewNopLogger() *ETLLogger {
	return NewETLLoggerFromZap(zap.NewNop(), false)
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Info логирует информационное сообщение
func (l *ETLLogger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warn логирует предупреждение
func (l *ETLLogger) Warn(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error логирует сообщение об ошибке
func (l *ETLLogger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Debug логирует отладочное сообщение (только если включен verbose режим)
func (l *ETLLogger) Debug(format string, v ...interface{}) {
	if !l.isVerbose {
		return
	}
	l.sugar.Debugf(format, v...)
}

// With возвращает дочерний логгер с дополнительным полем
func (l *ETLLogger) With(key string, value interface{}) *ETLLogger {
	child := l.base.With(zap.Any(key, value))
	return &ETLLogger{
		sugar:     child.Sugar(),
		base:      child,
		isVerbose: l.isVerbose,
	}
}

// Zap возвращает исходный zap-логгер
func (l *ETLLogger) Zap() *zap.Logger {
	return l.base
}

// Sync сбрасывает буферы
func (l *ETLLogger) Sync() {
	_ = l.base.Sync()
}

// LogRunStart логирует начало запуска синхронизации
func (l *ETLLogger) LogRunStart(runID string) {
	l.Info("Начало выполнения синхронизации хранилища, запуск %s", runID)
}

// LogRunComplete логирует завершение запуска синхронизации
func (l *ETLLogger) LogRunComplete(startTime time.Time, batches, rowsStaged, fraudEvents int) {
	l.Info("Синхронизация завершена. Длительность: %v", time.Since(startTime))
	l.Info("Обработано: %d пакетов, %d строк в staging, %d событий мошенничества", batches, rowsStaged, fraudEvents)
}

// LogStepComplete логирует завершение отдельного шага
func (l *ETLLogger) LogStepComplete(step string, duration time.Duration) {
	l.Debug("Шаг %s завершён за %v", step, duration)
}
