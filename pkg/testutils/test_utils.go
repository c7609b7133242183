// Copyright 2016--2022 Lightbits Labs Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// you may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package testutils holds filesystem helpers shared by package tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// CreateTempDir returns a fresh directory removed when the test ends.
func CreateTempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "discovery")
	require.NoError(t, err, "failed to create temp dir")
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func CreateFile(t *testing.T, filename string, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(filename), 0755), "failed to create parent dir")
	err := os.WriteFile(filename, []byte(content), 0666)
	require.NoError(t, err, "failed to write file")
}

// RenameFile moves a file in one step, the way configuration tools replace files.
func RenameFile(t *testing.T, from string, to string) {
	t.Logf("Renaming %s to %s", from, to)
	require.NoError(t, os.Rename(from, to), "failed to rename file")
}

func DeleteFile(t *testing.T, filename string) {
	t.Logf("Removing %s", filename)
	err := os.Remove(filename)
	require.NoError(t, err, "failed to remove file")
}
