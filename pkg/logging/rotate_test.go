// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateIfOversize_RotatesWhenAboveCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("big"), 0640))

	rotateIfOversize(path, 1, 5)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".1")
	assert.NoError(t, err)
}

func TestRotateIfOversize_NoopWhenUnderCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.log")
	require.NoError(t, os.WriteFile(path, []byte("small"), 0640))

	rotateIfOversize(path, 10*1024*1024, 5)

	_, err := os.Stat(path)
	assert.NoError(t, err)
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}
