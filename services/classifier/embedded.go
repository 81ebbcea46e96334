// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classifier

import (
	_ "embed"
)

// DetectorPatterns holds the raw bytes of patterns.yaml, baked into the
// binary at compile time so the same detector set ships identically on
// the manager and on every agent regardless of how either was
// deployed.
//
//go:embed patterns.yaml
var DetectorPatterns []byte
