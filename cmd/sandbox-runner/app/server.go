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

package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sandbox-runner/internal/dispatcher"
	"sandbox-runner/internal/launcher"
	"sandbox-runner/internal/logutil"
	"sandbox-runner/internal/metrics"
	"sandbox-runner/internal/registry"
	"sandbox-runner/internal/rpc"
	"sandbox-runner/internal/supervisor"
)

var logger = logutil.GetLogger("app")

func runServer(opt *Option) error {
	if lvl, err := logrus.ParseLevel(opt.LogLevel); err == nil {
		logutil.SetLevel(lvl)
	} else {
		logger.WithError(err).Warnf("ignoring unrecognized log level %q", opt.LogLevel)
	}

	if opt.Workspace == "" {
		logger.Fatal("--workspace is required")
	}
	workspace, err := filepath.Abs(opt.Workspace)
	if err != nil {
		logger.WithError(err).Fatal("resolving workspace")
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		logger.Fatalf("workspace not found: %s", workspace)
	}

	if opt.MainFile == "" {
		logger.Fatal("--main-file is required")
	}

	defaultCommand := opt.DefaultCommand
	if defaultCommand == "" {
		defaultCommand = fmt.Sprintf("python -u %s", shellQuote(opt.MainFile))
	}

	launchCfg := launcher.Config{
		Workspace:    workspace,
		PythonImage:  opt.PythonImage,
		DockerUser:   opt.DockerUser,
		DockerCPUs:   opt.DockerCPUs,
		DockerMemory: opt.DockerMemory,
		TmpfsSize:    opt.TmpfsSize,
	}

	sessCfg := supervisor.Config{
		OutputLimit:    opt.OutputLimit,
		SessionTimeout: durationFromSeconds(opt.SessionTimeout),
		IdleTimeout:    durationFromSeconds(opt.IdleTimeout),
	}

	logger.WithFields(logrus.Fields{
		"workspace":       workspace,
		"python_image":    opt.PythonImage,
		"default_command": defaultCommand,
		"output_limit":    opt.OutputLimit,
		"session_timeout": opt.SessionTimeout,
		"idle_timeout":    opt.IdleTimeout,
	}).Info("sandbox-runner starting")

	reg := registry.New()
	d := dispatcher.New(reg, launcher.DockerLauncher{}, launchCfg, sessCfg, defaultCommand)

	if opt.MetricsAddr != "" {
		go metrics.StartServer(opt.MetricsAddr)
	}

	transport := rpc.New(os.Stdin, os.Stdout, d, reg)
	if err := transport.Run(); err != nil {
		return fmt.Errorf("transport error: %w", err)
	}

	logger.Info("sandbox-runner shut down cleanly")
	return nil
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// shellQuote wraps a path in single quotes for embedding in the inner
// shell command, escaping any single quote it contains.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
