// Package unpacker turns map bundles dropped in an input directory into map records.
//
// Every bundle goes through the same steps: read up to the references block, project the
// allow-listed fields, write the record, then queue the bundle for deletion. A bundle is only
// queued once its record is on disk.
package unpacker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/decorate"
	"github.com/ubuntu/map-unpacker/internal/bundle"
	"github.com/ubuntu/map-unpacker/internal/constants"
	"github.com/ubuntu/map-unpacker/internal/deleter"
	"github.com/ubuntu/map-unpacker/internal/fileutils"
	"github.com/ubuntu/map-unpacker/internal/output"
	"github.com/ubuntu/map-unpacker/internal/projection"
	"github.com/ubuntu/map-unpacker/internal/watcher"
)

// ErrNoMapID is returned when a bundle name has no usable map id.
var ErrNoMapID = errors.New("file name has no map id")

var nonDigitsRE = regexp.MustCompile(`\D`)

// StaticConfig is the configuration of the service.
type StaticConfig struct {
	InputDir     string        `mapstructure:"input-dir"`
	OutputDir    string        `mapstructure:"output-dir"`
	Marker       string        `mapstructure:"marker"`
	RepairQuotes bool          `mapstructure:"repair-quotes"`
	InitialScan  bool          `mapstructure:"initial-scan"`
	SettleDelay  time.Duration `mapstructure:"settle-delay"`
	DeleteDelay  time.Duration `mapstructure:"delete-delay"`
	RetryDelay   time.Duration `mapstructure:"retry-delay"`

	// Rules replaces the default allow-list when not empty.
	Rules []projection.Rule `mapstructure:"rules"`
}

// DefaultConfig returns the default configuration of the service.
func DefaultConfig() StaticConfig {
	return StaticConfig{
		InputDir:    constants.DefaultInputDir,
		OutputDir:   constants.DefaultOutputDir,
		Marker:      constants.DefaultReferencesMarker,
		InitialScan: true,
		SettleDelay: watcher.DefaultSettleDelay,
		DeleteDelay: constants.DefaultDeleteDelay,
		RetryDelay:  constants.DefaultRetryDelay,
	}
}

type deleteQueue interface {
	Enqueue(path string)
	Wait()
}

type dirWatcher interface {
	Watch(ctx context.Context) (<-chan string, <-chan error, error)
}

// Service processes the bundles of the input directory.
type Service struct {
	inputDir     string
	marker       string
	repairQuotes bool

	projector *projection.Projector
	writer    *output.Writer
	deleter   deleteQueue
	watcher   dirWatcher

	log       *slog.Logger
	processed *prometheus.CounterVec

	handlers sync.WaitGroup
}

type options struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// Options represents an optional function to override Service default values.
type Options func(*options)

// WithLogger sets the logger of the service.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// WithRegisterer sets the registerer of the service metrics.
func WithRegisterer(reg prometheus.Registerer) Options {
	return func(o *options) {
		o.registerer = reg
	}
}

// New creates the service, creating the input and output directories if needed.
// Queued deletions stop when ctx is done.
func New(ctx context.Context, cfg StaticConfig, args ...Options) (s *Service, err error) {
	defer decorate.OnError(&err, "could not create unpacker")

	opts := options{
		logger:     slog.Default(),
		registerer: prometheus.NewRegistry(),
	}

	for _, opt := range args {
		opt(&opts)
	}

	if cfg.InputDir == "" {
		return nil, errors.New("input directory must be set")
	}
	if cfg.Marker == "" {
		return nil, errors.New("references marker must be set")
	}
	if err := os.MkdirAll(cfg.InputDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create input directory: %v", err)
	}

	projector, err := projection.New(cfg.Rules)
	if err != nil {
		return nil, err
	}

	writer, err := output.New(cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	queue, err := deleter.New(ctx,
		deleter.WithDeleteDelay(cfg.DeleteDelay),
		deleter.WithRetryDelay(cfg.RetryDelay),
		deleter.WithLogger(opts.logger),
		deleter.WithRegisterer(opts.registerer),
	)
	if err != nil {
		return nil, err
	}

	w, err := watcher.New(cfg.InputDir,
		watcher.WithSettleDelay(cfg.SettleDelay),
		watcher.WithInitialScan(cfg.InitialScan),
		watcher.WithLogger(opts.logger),
	)
	if err != nil {
		return nil, err
	}

	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "map_unpacker_files_processed_total",
		Help: "Number of map bundles processed, by result.",
	}, []string{"result"})
	if err := opts.registerer.Register(processed); err != nil {
		return nil, fmt.Errorf("failed to register processed files counter: %v", err)
	}

	return &Service{
		inputDir:     cfg.InputDir,
		marker:       cfg.Marker,
		repairQuotes: cfg.RepairQuotes,
		projector:    projector,
		writer:       writer,
		deleter:      queue,
		watcher:      w,
		log:          opts.logger,
		processed:    processed,
	}, nil
}

// Run watches the input directory and processes every bundle added to it, each in its own goroutine.
// A failure on one bundle never stops the service.
//
// This is blocking until the context is canceled or the directory can't be watched anymore, and
// returns once in-flight bundles are processed.
// Always returns a non-nil error, which is either a context error or a watcher error.
func (s *Service) Run(ctx context.Context) error {
	added, errs, err := s.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch input directory: %v", err)
	}
	defer s.handlers.Wait()

	s.log.Info("Watching for map files", "dir", s.inputDir)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Unpacker shutting down")
			return ctx.Err()

		case path, ok := <-added:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("directory watcher stopped unexpectedly")
			}

			s.handlers.Add(1)
			go func() {
				defer s.handlers.Done()
				s.handle(ctx, path)
			}()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return fmt.Errorf("directory watcher failed: %w", err)
		}
	}
}

// WaitDeletions blocks until the delete queue is idle.
func (s *Service) WaitDeletions() {
	s.deleter.Wait()
}

// handle processes path, keeping any panic from reaching the watch loop.
func (s *Service) handle(ctx context.Context, path string) {
	defer func() {
		if r := recover(); r != nil {
			s.processed.WithLabelValues("panic").Inc()
			s.log.Error("Error processing", "file", path, "err", r, "stack", string(debug.Stack()))
		}
	}()

	_ = s.ProcessFile(ctx, path)
}

// ProcessFile runs the whole pipeline for the bundle at path.
//
// Hidden files are ignored. On success the record is written and the bundle is queued for deletion.
// On failure the bundle is left in place and, when its content could not be parsed, the raw text
// is saved as an error artifact next to the records.
func (s *Service) ProcessFile(ctx context.Context, path string) (err error) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		s.log.Debug("Ignoring hidden file", "file", path)
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	mapID, err := MapID(name)
	if err != nil {
		s.processed.WithLabelValues("malformed").Inc()
		s.log.Error("Error processing", "file", path, "err", err)
		return err
	}
	log := s.log.With("mapId", mapID, "file", path)

	text, err := s.read(path)
	if err != nil {
		s.processed.WithLabelValues("read_error").Inc()
		log.Error("Error processing", "err", err)
		return err
	}

	doc, err := projection.ParseDocument([]byte(text))
	if err != nil {
		s.processed.WithLabelValues("malformed").Inc()
		log.Error("Error processing", "err", err)
		if werr := s.writer.WriteError(mapID, text); werr != nil {
			log.Warn("Failed to save unparsable content", "err", werr)
		} else {
			log.Info("Saved unparsable content for review", "artifact", s.writer.ErrorPath(mapID))
		}
		return err
	}

	rec, err := s.projector.Project(doc, mapID)
	if err != nil {
		s.processed.WithLabelValues("malformed").Inc()
		log.Error("Error processing", "err", err)
		return err
	}

	if err := s.writer.Write(rec); err != nil {
		s.processed.WithLabelValues("write_error").Inc()
		log.Error("Error processing", "err", err)
		return err
	}

	if err := fileutils.RemoveFile(s.writer.ErrorPath(mapID)); err != nil {
		log.Warn("Failed to remove previous error artifact", "err", err)
	}

	s.processed.WithLabelValues("success").Inc()
	log.Info("Updated", "record", s.writer.RecordPath(mapID))

	s.deleter.Enqueue(path)
	return nil
}

// read returns the bundle text up to its references block.
func (s *Service) read(path string) (text string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open bundle: %v", err)
	}
	defer f.Close()

	text, err = bundle.TruncateAtMarker(f, s.marker)
	if err != nil {
		return "", err
	}

	if s.repairQuotes {
		text = bundle.RepairQuotes(text)
	}
	return text, nil
}

// MapID returns the map id of a bundle: the digits of its file name.
func MapID(name string) (int64, error) {
	digits := nonDigitsRE.ReplaceAllString(name, "")
	if digits == "" {
		return 0, fmt.Errorf("%w: %q", ErrNoMapID, name)
	}

	id, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrNoMapID, name, err)
	}
	return id, nil
}
