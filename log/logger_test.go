// Copyright 2019 The go-ultiledger Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogger(t *testing.T) {
	Error("test error level")
	Errorf("test error level %s", "format")
	Errorw("test error level", "ctx", "error")
	Info("test info level")
	Infof("test info level %s", "format")
	Infow("test info level", "ctx", "info", "hello", "world")
	Debugf("test debug level %s", "(closed)")
	assert.False(t, rootLogger.Desugar().Core().Enabled(zap.DebugLevel))

	OpenDebug()
	defer CloseDebug()
	Debugw("test debug level (opened)", "ctx", "debug")
	assert.True(t, rootLogger.Desugar().Core().Enabled(zap.DebugLevel))
	Warn("test warn level")
	Warnf("test warn level %s", "format")
	Warnw("test warn level", "ctx", "warn")
}

func TestInitWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "node.log")
	Init(Config{File: file, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	defer Init(Config{})

	Infow("written to file", "index", 1)
	Named("consensus").Infow("named logger", "index", 2)
	_ = Sync()

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), `"logger":"consensus"`)
}
