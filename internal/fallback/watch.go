// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package fallback

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tomtom215/predictd/internal/logging"
)

// Watch invalidates cached snapshots when their files change, so a redeployed
// snapshot is served without a restart. It blocks until ctx is done.
//
// The data directory must exist when Watch is called; fsnotify cannot watch
// a path that is not there yet.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create snapshot watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.cfg.DataDir); err != nil {
		return fmt.Errorf("watch %s: %w", s.cfg.DataDir, err)
	}

	logger := logging.WithComponent("fallback")
	logger.Info().Str("data_dir", s.cfg.DataDir).Msg("Watching snapshot directory")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("snapshot watcher closed")
			}
			s.handleEvent(event)

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("snapshot watcher closed")
			}
			// Overflow drops events we cannot replay; start from scratch.
			logger.Warn().Err(err).Msg("Snapshot watcher error, dropping cache")
			s.InvalidateAll()
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	kind, ok := kindForFile(filepath.Base(event.Name))
	if !ok {
		return
	}
	logging.Debug().
		Str("file", event.Name).
		Str("op", event.Op.String()).
		Str("kind", kind.String()).
		Msg("Snapshot changed, invalidating")
	s.Invalidate(kind)
}
