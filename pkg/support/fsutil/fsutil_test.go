// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	assert.True(t, must.M1(FileExists(dir)))
	filePath := filepath.Join(dir, "a", "b", "file.txt")
	assert.False(t, must.M1(FileExists(filePath)))
	require.NoError(t, CreateParentDir(filePath))
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0644))
	assert.True(t, must.M1(FileExists(filePath)))
}

func TestReplaceTildeInDir(t *testing.T) {
	assert.Equal(t, "/tmp/x", must.M1(ReplaceTildeInDir("/tmp/x")))
	assert.Equal(t, "", must.M1(ReplaceTildeInDir("")))
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	assert.Equal(t, filepath.Join(home, "work", "camvid"), must.M1(ReplaceTildeInDir("~/work/camvid")))
	assert.Equal(t, home, must.M1(ReplaceTildeInDir("~")))
	_, err = ReplaceTildeInDir("~no_such_user_for_sure/data")
	require.Error(t, err)
}
