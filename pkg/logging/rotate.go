// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"fmt"
	"os"
)

const (
	// maxLogFileBytes is the size cap at which a log file is rotated
	// aside, per the 10 MB resource cap both the agent and the manager
	// observe.
	maxLogFileBytes = 10 * 1024 * 1024

	// maxRotatedFiles is how many previous generations are retained
	// (".1" through ".5").
	maxRotatedFiles = 5
)

// rotateIfOversize renames path aside as path+".1" (shifting any
// existing ".1".."maxGenerations-1" up by one and discarding the
// oldest) if path already exists and is at or above maxBytes. It is
// called once per New(), before the file is opened for appending, so
// rotation happens at most once per process start rather than mid-write.
func rotateIfOversize(path string, maxBytes int64, maxGenerations int) {
	info, err := os.Stat(path)
	if err != nil || info.Size() < maxBytes {
		return
	}

	oldest := fmt.Sprintf("%s.%d", path, maxGenerations)
	_ = os.Remove(oldest)
	for n := maxGenerations - 1; n >= 1; n-- {
		from := fmt.Sprintf("%s.%d", path, n)
		to := fmt.Sprintf("%s.%d", path, n+1)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
	_ = os.Rename(path, path+".1")
}
