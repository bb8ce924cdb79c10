// Package logger wires the indexer's subsystem loggers onto a single
// rotating-file backend, the way the teacher repo's logger package wires
// its subsystem loggers onto a single logs.Backend.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Subsystem tags, one per core component plus the ambient ones.
const (
	TagRPCC = "RPCC" // RPC client
	TagNTXP = "NTXP" // node-tx parser
	TagBLKI = "BLKI" // block indexer
	TagBULK = "BULK" // bulk loader
	TagSTOR = "STOR" // analytical store
	TagREOG = "REOG" // reorg controller
	TagSYNC = "SYNC" // sync engine
	TagFNOD = "FNOD" // fluxnode secondary sync
	TagSUPV = "SUPV" // supply verification
	TagAPI  = "API"  // read API
)

var allTags = []string{TagRPCC, TagNTXP, TagBLKI, TagBULK, TagSTOR, TagREOG, TagSYNC, TagFNOD, TagSUPV, TagAPI}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	if logRotator != nil {
		_, _ = logRotator.Write(p)
	}
	return os.Stdout.Write(p)
}

var (
	backend     = btclog.NewBackend(logWriter{})
	logRotator  *rotator.Rotator
	subsystems  = make(map[string]btclog.Logger, len(allTags))
)

func init() {
	for _, tag := range allTags {
		subsystems[tag] = backend.Logger(tag)
	}
}

// InitLogRotator initializes file-based log rotation. Must be called once
// at process startup before any subsystem logger is used, mirroring the
// teacher's InitLogRotators.
func InitLogRotator(logFile string) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	r, err := rotator.New(logFile, 10*1024*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create log rotator: %w", err)
	}
	logRotator = r
	return nil
}

// Get returns the logger for the given subsystem tag, creating it if it
// does not yet exist.
func Get(tag string) btclog.Logger {
	if l, ok := subsystems[tag]; ok {
		return l
	}
	l := backend.Logger(tag)
	subsystems[tag] = l
	return l
}

// SetLevels sets the log level for every subsystem logger.
func SetLevels(levelStr string) error {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		return fmt.Errorf("invalid log level %q", levelStr)
	}
	for _, l := range subsystems {
		l.SetLevel(level)
	}
	return nil
}

// SetLevel sets the log level for a single subsystem, e.g. "SYNC=debug".
func SetLevel(tag, levelStr string) error {
	level, ok := btclog.LevelFromString(levelStr)
	if !ok {
		return fmt.Errorf("invalid log level %q", levelStr)
	}
	Get(tag).SetLevel(level)
	return nil
}

// ParseAndSetDebugLevels accepts either a single level ("info") applied to
// every subsystem, or a comma-separated list of TAG=level pairs.
func ParseAndSetDebugLevels(spec string) error {
	if !strings.Contains(spec, ",") && !strings.Contains(spec, "=") {
		return SetLevels(spec)
	}
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid log level pair %q", pair)
		}
		if err := SetLevel(strings.ToUpper(parts[0]), parts[1]); err != nil {
			return err
		}
	}
	return nil
}

// SupportedSubsystems returns a sorted slice of known subsystem tags.
func SupportedSubsystems() []string {
	tags := make([]string, 0, len(subsystems))
	for tag := range subsystems {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Close flushes and closes the log rotator, if one was initialized.
func Close() error {
	if logRotator == nil {
		return nil
	}
	return logRotator.Close()
}
