// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

// OpenLogFile opens an append-only log file inside dir, creating the
// directory on first use. Operators diagnose bootstrap failures through
// this file, so it must exist even when everything else goes wrong.
func OpenLogFile(dir, name string) (io.WriteCloser, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, oops.In("logging").With("dir", dir).Wrap(err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, oops.In("logging").With("path", path).Wrap(err)
	}
	return f, nil
}
