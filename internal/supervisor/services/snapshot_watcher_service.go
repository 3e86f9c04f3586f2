// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package services

import (
	"context"
	"os"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/predictd/internal/logging"
)

// SnapshotWatcher is satisfied by *fallback.Store.
type SnapshotWatcher interface {
	Watch(ctx context.Context) error
	DataDir() string
}

// SnapshotWatcherService keeps the fallback cache in step with the data
// directory. A missing directory cannot be watched, so the service removes
// itself instead of restarting in a loop; snapshots are still read on
// demand.
type SnapshotWatcherService struct {
	watcher SnapshotWatcher
	name    string
}

// NewSnapshotWatcherService creates the snapshot watcher service.
func NewSnapshotWatcherService(watcher SnapshotWatcher) *SnapshotWatcherService {
	return &SnapshotWatcherService{
		watcher: watcher,
		name:    "snapshot-watcher",
	}
}

// Serve implements suture.Service.
func (s *SnapshotWatcherService) Serve(ctx context.Context) error {
	dir := s.watcher.DataDir()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logging.Warn().Str("data_dir", dir).Msg("Snapshot directory missing, watcher disabled")
		return suture.ErrDoNotRestart
	}
	return s.watcher.Watch(ctx)
}

// String implements fmt.Stringer for suture's event log.
func (s *SnapshotWatcherService) String() string {
	return s.name
}
