// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

// Package fallback serves last-known-good results when the prediction
// service cannot answer. Snapshots are JSON documents produced out of band;
// this package only ever reads them.
//
// Snapshot paths are built from the configured data directory and a fixed
// kind-to-filename table. The only request-derived path component is a plot
// filename, which is validated before any filesystem call.
package fallback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/predictd/internal/logging"
	"github.com/tomtom215/predictd/internal/metrics"
	"github.com/tomtom215/predictd/internal/models"
)

var (
	// ErrNotFound means no snapshot exists for the requested kind.
	ErrNotFound = errors.New("fallback: snapshot not found")

	// ErrCorrupt means a snapshot exists but cannot be served.
	ErrCorrupt = errors.New("fallback: snapshot corrupt")

	// ErrInvalidFilename is returned for plot names that fail validation.
	ErrInvalidFilename = models.ErrInvalidPlotFilename
)

// snapshotFiles maps each JSON kind to its snapshot file name.
var snapshotFiles = map[models.Kind]string{
	models.KindTrain:                "train_response.json",
	models.KindPredictUsage:         "prediction_response.json",
	models.KindAnalyzePatterns:      "patterns_response.json",
	models.KindBusinessIntelligence: "business_intelligence.json",
	models.KindModelMetrics:         "model_metrics.json",
}

const (
	defaultMaxSnapshotBytes = 32 << 20
	defaultMaxPlotBytes     = 16 << 20
)

// SnapshotFile returns the snapshot file name for kind. Plot has none.
func SnapshotFile(kind models.Kind) (string, bool) {
	name, ok := snapshotFiles[kind]
	return name, ok
}

// kindForFile is the reverse of snapshotFiles, used by the watcher.
func kindForFile(name string) (models.Kind, bool) {
	for kind, file := range snapshotFiles {
		if file == name {
			return kind, true
		}
	}
	return 0, false
}

// Entry is one loaded snapshot. Payload must not be modified.
type Entry struct {
	Kind        models.Kind
	Payload     []byte
	ContentType string
	LoadedAt    time.Time
}

// Config locates the snapshots.
type Config struct {
	DataDir  string
	PlotsDir string

	// Size caps; zero selects the defaults.
	MaxSnapshotBytes int64
	MaxPlotBytes     int64
}

// Store reads snapshots and caches the JSON ones until they are invalidated.
// Plots are read from disk on every request.
type Store struct {
	cfg Config

	mu      sync.RWMutex
	entries map[models.Kind]*Entry

	group singleflight.Group
}

// New returns a store. Nothing is read until Load or Preload.
func New(cfg Config) *Store {
	if cfg.MaxSnapshotBytes <= 0 {
		cfg.MaxSnapshotBytes = defaultMaxSnapshotBytes
	}
	if cfg.MaxPlotBytes <= 0 {
		cfg.MaxPlotBytes = defaultMaxPlotBytes
	}
	return &Store{
		cfg:     cfg,
		entries: make(map[models.Kind]*Entry),
	}
}

// DataDir returns the snapshot directory.
func (s *Store) DataDir() string { return s.cfg.DataDir }

// Load returns the snapshot for req. Missing and unreadable snapshots are
// reported as ErrNotFound and ErrCorrupt, never as a panic.
func (s *Store) Load(req models.RequestKind) (*Entry, error) {
	if req.Kind == models.KindPlot {
		return s.LoadPlot(req.Filename)
	}
	return s.loadSnapshot(req.Kind)
}

func (s *Store) loadSnapshot(kind models.Kind) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[kind]
	s.mu.RUnlock()
	if ok {
		metrics.FallbackLoads.WithLabelValues(kind.String(), "cached").Inc()
		return entry, nil
	}

	name, ok := snapshotFiles[kind]
	if !ok {
		metrics.FallbackLoads.WithLabelValues(kind.String(), "not_found").Inc()
		return nil, fmt.Errorf("%w: no snapshot defined for %s", ErrNotFound, kind)
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		return s.readSnapshot(kind, filepath.Join(s.cfg.DataDir, name))
	})
	if err != nil {
		metrics.FallbackLoads.WithLabelValues(kind.String(), resultLabel(err)).Inc()
		return nil, err
	}
	metrics.FallbackLoads.WithLabelValues(kind.String(), "loaded").Inc()
	return v.(*Entry), nil
}

// readSnapshot reads, validates and caches one JSON snapshot. Failures are
// not cached so a snapshot deployed later is picked up on the next call.
func (s *Store) readSnapshot(kind models.Kind, path string) (*Entry, error) {
	data, err := readBounded(path, s.cfg.MaxSnapshotBytes)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 || !json.Valid(data) {
		logging.Warn().Str("path", path).Str("kind", kind.String()).Msg("Snapshot is not valid JSON")
		return nil, fmt.Errorf("%w: %s is not valid JSON", ErrCorrupt, path)
	}

	entry := &Entry{
		Kind:        kind,
		Payload:     data,
		ContentType: "application/json",
		LoadedAt:    time.Now(),
	}
	s.mu.Lock()
	s.entries[kind] = entry
	s.mu.Unlock()

	logging.Debug().Str("path", path).Str("kind", kind.String()).Int("bytes", len(data)).Msg("Snapshot loaded")
	return entry, nil
}

// LoadPlot reads a plot image from the plots directory. The filename is
// validated before it is joined to any path.
func (s *Store) LoadPlot(filename string) (*Entry, error) {
	if err := models.ValidatePlotFilename(filename); err != nil {
		metrics.FallbackLoads.WithLabelValues(models.KindPlot.String(), "invalid").Inc()
		return nil, err
	}

	path := filepath.Join(s.cfg.PlotsDir, filename)
	if filepath.Dir(path) != filepath.Clean(s.cfg.PlotsDir) {
		metrics.FallbackLoads.WithLabelValues(models.KindPlot.String(), "invalid").Inc()
		return nil, fmt.Errorf("%w: resolves outside the plots directory", ErrInvalidFilename)
	}

	data, err := readBounded(path, s.cfg.MaxPlotBytes)
	if err == nil && len(data) == 0 {
		err = fmt.Errorf("%w: %s is empty", ErrCorrupt, path)
	}
	if err != nil {
		metrics.FallbackLoads.WithLabelValues(models.KindPlot.String(), resultLabel(err)).Inc()
		return nil, err
	}

	metrics.FallbackLoads.WithLabelValues(models.KindPlot.String(), "loaded").Inc()
	return &Entry{
		Kind:        models.KindPlot,
		Payload:     data,
		ContentType: plotContentType(filename, data),
		LoadedAt:    time.Now(),
	}, nil
}

// Preload reads every JSON snapshot once so the first degraded answer does
// not pay for disk I/O. It returns the number of snapshots loaded.
func (s *Store) Preload() int {
	loaded := 0
	for _, kind := range models.AllKinds {
		if kind == models.KindPlot {
			continue
		}
		if _, err := s.loadSnapshot(kind); err != nil {
			if !errors.Is(err, ErrNotFound) {
				logging.Warn().Err(err).Str("kind", kind.String()).Msg("Snapshot unusable")
			}
			continue
		}
		loaded++
	}
	logging.Info().Int("loaded", loaded).Str("data_dir", s.cfg.DataDir).Msg("Fallback snapshots preloaded")
	return loaded
}

// Invalidate drops the cached entry for kind.
func (s *Store) Invalidate(kind models.Kind) {
	s.mu.Lock()
	_, had := s.entries[kind]
	delete(s.entries, kind)
	s.mu.Unlock()
	if had {
		metrics.FallbackInvalidations.Inc()
	}
}

// InvalidateAll drops every cached entry.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	n := len(s.entries)
	s.entries = make(map[models.Kind]*Entry)
	s.mu.Unlock()
	metrics.FallbackInvalidations.Add(float64(n))
}

// Cached returns the kinds currently held in memory.
func (s *Store) Cached() []models.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kinds := make([]models.Kind, 0, len(s.entries))
	for _, kind := range models.AllKinds {
		if _, ok := s.entries[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// readBounded reads a regular file of at most limit bytes.
func readBounded(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from configuration and a validated name
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrCorrupt, path, limit)
	}

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrCorrupt, path, limit)
	}
	return data, nil
}

func plotContentType(filename string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidFilename):
		return "invalid"
	default:
		return "corrupt"
	}
}
