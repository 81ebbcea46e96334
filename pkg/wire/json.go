// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package wire

import "encoding/json"

// remapViaJSON round-trips src through JSON into dst. It is used to
// turn a loosely-typed map[string]any (as stored by the policy store)
// into one of the concrete *Config structs, the same remarshal
// approach the reference codebase uses when normalizing arbitrary
// JSON payloads into typed request structs.
func remapViaJSON(src map[string]any, dst any) error {
	buf, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

// configToMap is the inverse of remapViaJSON: it flattens a concrete
// config struct back into a map[string]any for transmission as the
// bundle's `config` field.
func configToMap(src any) (map[string]any, error) {
	buf, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, err
	}
	return out, nil
}
