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

package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"time"

	"github.com/lightbitslabs/discovery-controller/pkg/collections"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	validLevels = []string{"trace", "debug", "info", "warn", "warning", "error", "fatal"}
)

type Config struct {
	// Write to file? if not provided not writing to file
	Filename string `yaml:"filename,omitempty" mapstructure:"filename"`
	// Time to wait until old logs are purged. By default no logs are purged
	MaxAge time.Duration `yaml:"maxAge,omitempty" mapstructure:"maxAge"`
	// MaxSize is the maximum size of the file in MB
	MaxSize int `yaml:"maxSize,omitempty" mapstructure:"maxSize"`
	// Write caller file:line and package.function on log entries
	ReportCaller bool `yaml:"reportCaller,omitempty" mapstructure:"reportCaller"`
	// one of trace, debug, info, warn, warning, error, fatal
	Level string `yaml:"level,omitempty" mapstructure:"level"`
}

func (c *Config) IsValid() error {
	if len(c.Level) > 0 && !collections.Include(validLevels, c.Level) {
		return fmt.Errorf("invalid logging.level parameter provided. supported levels: %v, provided: %s", validLevels, c.Level)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("invalid logging.maxSize %d", c.MaxSize)
	}
	return nil
}

func textFormatter(disableTimeStamp bool) *logrus.TextFormatter {
	return &logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: disableTimeStamp,
		FullTimestamp:    !disableTimeStamp,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			_, filename := path.Split(f.File)
			return path.Base(f.Function), fmt.Sprintf("%s:%d", filename, f.Line)
		},
	}
}

func levelWriters(wantedLevel logrus.Level, w io.Writer) lfshook.WriterMap {
	writerMap := lfshook.WriterMap{}
	for level := int(wantedLevel); level > int(logrus.PanicLevel); level-- {
		writerMap[logrus.Level(level)] = w
	}
	return writerMap
}

// maxAgeDays rounds up, lumberjack keeps files for whole days. 0 keeps them forever.
func maxAgeDays(d time.Duration) int {
	const day = 24 * time.Hour
	if d <= 0 {
		return 0
	}
	return int((d + day - 1) / day)
}

func setupConsoleLogs(logger *logrus.Logger, wantedLevel logrus.Level, console io.Writer, disableTimeStamp bool) {
	logger.AddHook(lfshook.NewHook(levelWriters(wantedLevel, console), textFormatter(disableTimeStamp)))
}

func setupLoggingFile(logger *logrus.Logger, cfg Config, wantedLevel logrus.Level) {
	if len(cfg.Filename) == 0 {
		return
	}
	writer := &lumberjack.Logger{
		Filename:  cfg.Filename,
		MaxSize:   cfg.MaxSize,
		Compress:  true,
		MaxAge:    maxAgeDays(cfg.MaxAge),
		LocalTime: false,
	}
	logger.AddHook(lfshook.NewHook(levelWriters(wantedLevel, writer), textFormatter(false)))
}

func setup(logger *logrus.Logger, cfg Config, console io.Writer, disableTimeStamp bool) error {
	if err := cfg.IsValid(); err != nil {
		return err
	}
	wantedLevel := logrus.InfoLevel
	if len(cfg.Level) > 0 {
		var err error
		wantedLevel, err = logrus.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
	}

	logger.SetOutput(io.Discard)
	logger.SetReportCaller(cfg.ReportCaller)
	logger.SetLevel(wantedLevel)
	setupConsoleLogs(logger, wantedLevel, console, disableTimeStamp)
	setupLoggingFile(logger, cfg, wantedLevel)
	return nil
}

// SetupLogging routes the standard logger to stdout, and to a rotating file when
// cfg.Filename is set.
func SetupLogging(cfg Config) error {
	return setup(logrus.StandardLogger(), cfg, os.Stdout, true)
}

func SetupLoggingWithConsoleTimeStamp(cfg Config) error {
	return setup(logrus.StandardLogger(), cfg, os.Stdout, false)
}
