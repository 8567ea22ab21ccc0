package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// representa os níveis de log
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// retorna a representação string do nível de log
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// converte para o nível equivalente do logrus
func (l LogLevel) toLogrus() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case INFO:
		return logrus.InfoLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

// ParseLevel interpreta "debug", "info", "warn", "error" ou "fatal".
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, errors.Errorf("nível de log desconhecido %q", s)
}

// representa um logger estruturado
type Logger struct {
	entry *logrus.Entry
	file  *os.File
}

func newBase(level LogLevel, output io.Writer, useColor bool) *logrus.Logger {
	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(level.toLogrus())
	base.SetReportCaller(true)
	base.SetFormatter(&logrus.TextFormatter{
		ForceColors:     useColor,
		DisableColors:   !useColor,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
		// o caller real está acima dos wrappers deste pacote
		CallerPrettyfier: func(*runtime.Frame) (string, string) {
			return "", callerLocation()
		},
	})
	return base
}

// cria um novo logger
func NewLogger(level LogLevel, output io.Writer, prefix string) *Logger {
	entry := logrus.NewEntry(newBase(level, output, false))
	if prefix != "" {
		entry = entry.WithField("component", prefix)
	}
	return &Logger{entry: entry}
}

// cria um logger que escreve em arquivo
func NewFileLogger(level LogLevel, logDir, prefix string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, errors.Wrap(err, "criando diretório de log")
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", prefix, time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, errors.Wrap(err, "abrindo arquivo de log")
	}

	l := NewLogger(level, file, prefix)
	l.file = file
	return l, nil
}

// fecha o logger se estiver usando arquivo
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// define o nível de log
func (l *Logger) SetLevel(level LogLevel) {
	l.entry.Logger.SetLevel(level.toLogrus())
}

// define se deve usar cores
func (l *Logger) SetColor(useColor bool) {
	if f, ok := l.entry.Logger.Formatter.(*logrus.TextFormatter); ok {
		f.ForceColors = useColor
		f.DisableColors = !useColor
	}
}

// AddHook registra um hook do logrus, ex: o visor de logs da interface.
func (l *Logger) AddHook(h logrus.Hook) {
	l.entry.Logger.AddHook(h)
}

// IsDebug informa se mensagens de debug serão emitidas.
func (l *Logger) IsDebug() bool {
	return l.entry.Logger.IsLevelEnabled(logrus.DebugLevel)
}

// escreve uma mensagem de debug
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// escreve uma mensagem de informação
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// escreve uma mensagem de aviso
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// escreve uma mensagem de erro
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// escreve uma mensagem fatal e termina o programa
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

// adiciona um campo estruturado ao log
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{entry: l.entry.WithField(key, value), file: l.file}
}

// adiciona múltiplos campos estruturados ao log
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields)), file: l.file}
}

// retorna "arquivo:linha" do primeiro frame fora deste pacote e do logrus
func callerLocation() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.Contains(f.File, "sirupsen/logrus") && !strings.HasSuffix(f.File, "internal/logger/logger.go") {
			return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		if !more {
			return "unknown"
		}
	}
}

// Logger global para uso em todo o projeto
var (
	DefaultLogger = NewLogger(INFO, os.Stderr, "")
)

// inicializa o logger padrão; logDir vazio mantém a saída em stderr
func InitLoggers(level LogLevel, logDir string) error {
	if logDir == "" {
		DefaultLogger = NewLogger(level, os.Stderr, "")
		DefaultLogger.SetColor(true)
		return nil
	}
	l, err := NewFileLogger(level, logDir, "client")
	if err != nil {
		return err
	}
	DefaultLogger = l
	return nil
}

// fecha o logger padrão
func CloseLoggers() {
	if DefaultLogger != nil {
		DefaultLogger.Close()
	}
}

// Funções de conveniência para usar o logger padrão
func Debug(format string, args ...interface{}) { DefaultLogger.Debug(format, args...) }

func Info(format string, args ...interface{}) { DefaultLogger.Info(format, args...) }

func Warn(format string, args ...interface{}) { DefaultLogger.Warn(format, args...) }

func Error(format string, args ...interface{}) { DefaultLogger.Error(format, args...) }

func Fatal(format string, args ...interface{}) { DefaultLogger.Fatal(format, args...) }
