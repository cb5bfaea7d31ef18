// This file is part of fgevents.
//
// SPDX-License-Identifier: AGPL3.0-or-later

package util

import (
	"fmt"
	"os"

	"github.com/bfix/gospel/logger"
)

// EnforceDirExists makes sure path exists as a directory, creating it
// (and any missing parents) if necessary. Used to ensure a UDS
// socket's parent directory is present before bind.
func EnforceDirExists(path string) error {
	logger.Printf(logger.DBG, "[util] Checking directory '%s'...\n", path)
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf(logger.DBG, "[util] Creating directory '%s'...\n", path)
			return os.MkdirAll(path, 0770)
		}
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("not a directory (%s)", path)
	}
	return nil
}
