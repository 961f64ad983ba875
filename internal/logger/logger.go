package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[37m"
)

// PrettyFormatter renders entries as "time LEVEL message key=value ...".
type PrettyFormatter struct {
	// DisableColors strips ANSI escapes, used when output is not a terminal.
	DisableColors bool
}

func (f *PrettyFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	b.WriteString(e.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(f.colorizeLevel(e.Level))
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if f.DisableColors {
			fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
			continue
		}
		fmt.Fprintf(&b, " %s%s%s=%v", colorGray, k, colorReset, e.Data[k])
	}
	b.WriteByte('\n')

	return b.Bytes(), nil
}

func (f *PrettyFormatter) colorizeLevel(level logrus.Level) string {
	var color string
	var name string

	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		color = colorBlue
		name = "DEBUG"
	case logrus.InfoLevel:
		color = colorGreen
		name = "INFO"
	case logrus.WarnLevel:
		color = colorYellow
		name = "WARN"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		color = colorRed
		name = "ERROR"
	default:
		color = colorGray
		name = level.String()
	}

	if f.DisableColors {
		return fmt.Sprintf("%-5s", name)
	}
	return fmt.Sprintf("%s%-5s%s", color, name, colorReset)
}

func NewLogger() *logrus.Logger {
	return New(os.Stdout, logrus.InfoLevel)
}

// New builds a logger writing to out at the given level.
func New(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&PrettyFormatter{DisableColors: out != os.Stdout && out != os.Stderr})
	return l
}

// Discard returns a logger that drops everything, for tests.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// ParseLevel maps a flag value to a logrus level, falling back to info.
func ParseLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
