// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil provides a per-module logrus logger singleton.
//
// All output goes to stderr: stdout is reserved for the line-delimited
// RPC wire, so nothing ambient may ever touch it.
package logutil

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

const envKeyLogLevel = "LOG_LEVEL"

var (
	logMap = make(map[string]*logrus.Logger)
	locker sync.Mutex
	level  = logrus.InfoLevel
)

func init() {
	if raw := os.Getenv(envKeyLogLevel); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
}

// SetLevel sets the logging level for every logger created so far, and for
// any created afterwards.
func SetLevel(l logrus.Level) {
	locker.Lock()
	defer locker.Unlock()

	for _, logger := range logMap {
		logger.SetLevel(l)
	}

	level = l
}

// GetLogger returns the logger for the given module name, creating it on
// first use.
func GetLogger(moduleName string) *logrus.Logger {
	locker.Lock()
	defer locker.Unlock()

	if logger, ok := logMap[moduleName]; ok {
		return logger
	}

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logMap[moduleName] = logger

	return logger
}
