package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// Logger оборачивает zap.SugaredLogger, чтобы вызовы вида Infow("msg", "key", value)
// были одинаковыми во всем сервисе.
type Logger struct {
	*zap.SugaredLogger
}

// New создает JSON логгер с заданным минимальным уровнем.
func New(level LogLevel) *Logger {
	cfg := zap.NewProductionConfig()
	if level == DEBUG {
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(toZapLevel(level))
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Стектрейсы на warn/error только шумят в логах вебхуков
	cfg.DisableStacktrace = true

	zapLogger, err := cfg.Build()
	if err != nil {
		// Конфигурация статическая, поэтому сюда попадаем только при проблемах с stdout
		zapLogger = zap.NewExample()
	}

	return &Logger{SugaredLogger: zapLogger.Sugar()}
}

// ParseLevel переводит строковый уровень из конфига в LogLevel. Неизвестные значения дают INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	case "fatal", "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// NewNop возвращает логгер, который ничего не пишет. Используется в тестах.
func NewNop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// Named возвращает дочерний логгер с именем компонента.
func (l *Logger) Named(name string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name)}
}

// With возвращает логгер с постоянными полями.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

func toZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
