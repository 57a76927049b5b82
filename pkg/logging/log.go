// Package logging provides levelled package-level logging. Messages go to
// the standard logger unless a log file is configured, in which case they
// are written to a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

var (
	mu   sync.Mutex
	mode = InfoMode
	file *lumberjack.Logger
)

// LogConfig names an optional rotating log file.
type LogConfig struct {
	Logfile string `yaml:"logfile"`
	MaxSize int    `yaml:"maxLogSize"` // megabytes
	MaxAge  int    `yaml:"maxLogAge"`  // days
}

// SetLogger routes log output to the configured file. With no file
// configured, output stays on stderr.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
	}
	file = &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(file)
}

// Shutdown closes the log file, if any, and restores stderr output.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		file.Close()
		file = nil
	}
	log.SetOutput(os.Stderr)
}

// SetLogMode sets the severity required for a message to be printed.
// SilentMode turns off all logging.
func SetLogMode(newMode ModeFlag) {
	mu.Lock()
	mode = newMode
	mu.Unlock()
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func enabled(m ModeFlag) bool {
	mu.Lock()
	defer mu.Unlock()
	return mode <= m
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		log.Printf(" DEBUG "+format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		log.Printf(" INFO "+format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		log.Printf(" WARNING "+format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		log.Printf(" ERROR "+format, args...)
	}
}

// TimeLog appends the elapsed time since its creation to each message.
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf("%s: %s", fmt.Sprintf(format, args...), time.Since(t.start))
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof("%s: %s", fmt.Sprintf(format, args...), time.Since(t.start))
}
