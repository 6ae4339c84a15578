package logx

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// DefaultFilePath is used when file logging is enabled without a path.
const DefaultFilePath = "./wknotifier.log"

const consoleTime = "15:04:05"

var stdout io.Writer = os.Stdout

type Config struct {
	Level   string
	Console bool
	File    FileConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// Service owns the sinks behind every Logger it hands out. Apply swaps them
// in place when the config is reloaded.
type Service struct {
	out  io.Writer
	root atomic.Pointer[zerolog.Logger]

	mu   sync.Mutex
	file *os.File
	path string
}

// New applies cfg and returns the service with its root logger.
func New(cfg Config) (*Service, Logger) { return newService(cfg, stdout) }

func newService(cfg Config, out io.Writer) (*Service, Logger) {
	setup()
	s := &Service{out: out}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

// Apply switches the level and sinks. The log file stays open while its path
// is unchanged. With no sink enabled, or when the file cannot be opened,
// output goes to the console.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := ""
	if cfg.File.Enabled {
		if path = strings.TrimSpace(cfg.File.Path); path == "" {
			path = DefaultFilePath
		}
	}
	var openErr error
	if path != s.path {
		s.closeFile()
		if path != "" {
			if f, err := openLogFile(path); err != nil {
				openErr = err
			} else {
				s.file, s.path = f, path
			}
		}
	}

	var sinks []io.Writer
	if cfg.Console || s.file == nil {
		sinks = append(sinks, consoleWriter(s.out))
	}
	if s.file != nil {
		sinks = append(sinks, s.file)
	}
	zl := newRoot(parseLevel(cfg.Level), zerolog.MultiLevelWriter(sinks...))
	s.root.Store(&zl)

	if openErr != nil {
		zl.Error().Err(openErr).Str("path", path).Msg("log file unavailable; logging to console")
	}
}

// Close releases the log file. Loggers from this service discard afterwards.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	nop := zerolog.Nop()
	s.root.Store(&nop)
	return s.closeFile()
}

func (s *Service) closeFile() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.path = nil, ""
	return err
}

func openLogFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func newRoot(lvl zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// consoleWriter prints human-readable lines, colored only on a terminal.
func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	cw := zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTime, NoColor: !isTerminal(w)}
	cw.FormatCaller = func(i any) string {
		s, _ := i.(string)
		return s
	}
	return cw
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
