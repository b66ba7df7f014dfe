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

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootLogger *zap.SugaredLogger
var level = zap.NewAtomicLevelAt(zap.InfoLevel)

// Change stacktrace output level to DPanic for having
// a cleaner error message in Error level.
var options = []zap.Option{
	zap.AddCaller(),
	zap.AddStacktrace(zapcore.DPanicLevel),
}

func init() {
	rootLogger = build(zapcore.Lock(os.Stderr))
}

// Config of the log outputs.
type Config struct {
	// rotated log file, empty for stderr only
	File string
	// megabytes before the file is rotated
	MaxSize    int
	MaxBackups int
	// days to keep the rotated files
	MaxAge int
	Debug  bool
}

// Init rebuilds the root logger, the output is teed to a
// rotated log file when the file is configured.
func Init(c Config) {
	if c.Debug {
		OpenDebug()
	} else {
		CloseDebug()
	}

	ws := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if c.File != "" {
		ws = append(ws, zapcore.AddSync(&lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   true,
		}))
	}
	rootLogger = build(zapcore.NewMultiWriteSyncer(ws...))
}

func build(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, ws, level)
	return zap.New(core, append(options, zap.AddCallerSkip(1))...).Sugar()
}

// Named returns a logger for a component, it is handed
// to the packages which do not log through the globals.
func Named(name string) *zap.SugaredLogger {
	return rootLogger.Desugar().WithOptions(zap.AddCallerSkip(-1)).Named(name).Sugar()
}

func Sync() error {
	return rootLogger.Sync()
}

func OpenDebug() {
	level.SetLevel(zap.DebugLevel)
}

func CloseDebug() {
	level.SetLevel(zap.InfoLevel)
}

// Wrap the methods of global sugared logger for purpose
// of removing the ugly S() method call to write log
func Error(args ...interface{}) {
	rootLogger.Error(args...)
}

func Errorf(template string, args ...interface{}) {
	rootLogger.Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	rootLogger.Errorw(msg, keysAndValues...)
}

func Fatal(args ...interface{}) {
	rootLogger.Fatal(args...)
}

func Fatalf(template string, args ...interface{}) {
	rootLogger.Fatalf(template, args...)
}

func Warn(args ...interface{}) {
	rootLogger.Warn(args...)
}

func Warnf(template string, args ...interface{}) {
	rootLogger.Warnf(template, args...)
}

func Warnw(msg string, keysAndValues ...interface{}) {
	rootLogger.Warnw(msg, keysAndValues...)
}

func Info(args ...interface{}) {
	rootLogger.Info(args...)
}

func Infof(template string, args ...interface{}) {
	rootLogger.Infof(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	rootLogger.Infow(msg, keysAndValues...)
}

func Debugf(template string, args ...interface{}) {
	rootLogger.Debugf(template, args...)
}

func Debugw(msg string, keysAndValues ...interface{}) {
	rootLogger.Debugw(msg, keysAndValues...)
}
