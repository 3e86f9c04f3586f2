// Predictd - Prediction Service Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/predictd

package models

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrInvalidPlotFilename is returned for plot names that could escape the
// plots directory. Check it with errors.Is.
var ErrInvalidPlotFilename = errors.New("invalid plot filename")

// maxPlotFilenameLength bounds plot names well below any filesystem limit.
const maxPlotFilenameLength = 255

// ValidatePlotFilename accepts only a bare file name: no separators of either
// flavor, no parent references, no hidden files, no control characters.
// It never touches the filesystem.
func ValidatePlotFilename(name string) error {
	switch {
	case name == "":
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename is empty"))
	case len(name) > maxPlotFilenameLength:
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename is too long"))
	case strings.Contains(name, ".."):
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename contains a parent directory reference"))
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, filepath.Separator):
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename contains a path separator"))
	case strings.HasPrefix(name, "."):
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename is hidden"))
	case strings.IndexFunc(name, isControl) >= 0:
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename contains control characters"))
	case filepath.VolumeName(name) != "":
		return errors.Join(ErrInvalidPlotFilename, errors.New("filename names a volume"))
	}
	return nil
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
