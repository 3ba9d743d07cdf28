package httpengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// DefaultLoggerFormat matches the teacher's default text/template log line:
// a JSON object carrying the app name, timestamp, level, and call site.
const DefaultLoggerFormat = `{"app_name":"{{.app_name}}","time":"{{.time_rfc3339}}","level":"{{.level}}","file":"{{.short_file}}","line":"{{.line}}"}`

type loggerLevel uint8

const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
	lvlFatal
)

// Logger is the engine's structured logger, a direct generalisation of the
// teacher's logger.go: a pooled-buffer, text/template-driven line writer
// keyed off the engine's AppName/LoggerFormat configuration instead of an
// *Air.
type Logger struct {
	appName string
	enabled bool

	template   *template.Template
	bufferPool *sync.Pool
	mu         sync.Mutex
	levels     []string

	Output io.Writer
}

// newLogger builds the Logger for an Engine's configuration.
func newLogger(cfg EngineConfig) *Logger {
	appName := cfg.AppName
	if appName == "" {
		appName = "httpengine"
	}
	format := cfg.LoggerFormat
	if format == "" {
		format = DefaultLoggerFormat
	}
	return &Logger{
		appName: appName,
		enabled: !cfg.LoggerDisabled,
		template: template.Must(
			template.New("logger").Parse(format),
		),
		bufferPool: &sync.Pool{
			New: func() interface{} { return bytes.NewBuffer(make([]byte, 0, 256)) },
		},
		levels: []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"},
		Output: os.Stdout,
	}
}

// Print writes i to the Logger's Output with no level prefix or template.
func (l *Logger) Print(i ...interface{}) { fmt.Fprintln(l.Output, i...) }

// Printf writes a formatted line to the Logger's Output with no template.
func (l *Logger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.Output, format+"\n", args...)
}

// Debug logs i at DEBUG level.
func (l *Logger) Debug(i ...interface{}) { l.log(lvlDebug, "", i...) }

// Debugf logs a formatted message at DEBUG level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(lvlDebug, format, args...) }

// Info logs i at INFO level.
func (l *Logger) Info(i ...interface{}) { l.log(lvlInfo, "", i...) }

// Infof logs a formatted message at INFO level.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(lvlInfo, format, args...) }

// Warn logs i at WARN level.
func (l *Logger) Warn(i ...interface{}) { l.log(lvlWarn, "", i...) }

// Warnf logs a formatted message at WARN level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(lvlWarn, format, args...) }

// Error logs i at ERROR level.
func (l *Logger) Error(i ...interface{}) { l.log(lvlError, "", i...) }

// Errorf logs a formatted message at ERROR level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(lvlError, format, args...) }

// Fatal logs i at FATAL level and exits the process.
func (l *Logger) Fatal(i ...interface{}) {
	l.log(lvlFatal, "", i...)
	os.Exit(1)
}

// Fatalf logs a formatted message at FATAL level and exits the process.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(lvlFatal, format, args...)
	os.Exit(1)
}

func (l *Logger) log(lvl loggerLevel, format string, args ...interface{}) {
	if l == nil || !l.enabled {
		return
	}

	message := fmt.Sprint(args...)
	if format != "" {
		message = fmt.Sprintf(format, args...)
	}

	_, file, line, _ := runtime.Caller(2)

	data := map[string]interface{}{
		"app_name":     l.appName,
		"time_rfc3339": time.Now().Format(time.RFC3339),
		"level":        l.levels[lvl],
		"short_file":   path.Base(file),
		"long_file":    file,
		"line":         strconv.Itoa(line),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	buf := l.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		l.bufferPool.Put(buf)
	}()

	if err := l.template.Execute(buf, data); err != nil {
		return
	}

	s := buf.Bytes()
	if n := len(s); n > 0 && s[n-1] == '}' {
		buf.Truncate(n - 1)
		buf.WriteString(`,"message":`)
		messageJSON, _ := json.Marshal(message)
		buf.Write(messageJSON)
		buf.WriteByte('}')
	} else {
		buf.WriteByte(' ')
		buf.WriteString(message)
	}
	buf.WriteByte('\n')
	l.Output.Write(buf.Bytes())
}
