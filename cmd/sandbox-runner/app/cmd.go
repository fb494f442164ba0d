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

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Option holds every flag the server is launched with. If --config points
// at a TOML file, applyTomlDefaults fills in any field whose flag the user
// did not pass explicitly; an explicit flag always wins over the file.
type Option struct {
	Workspace      string `toml:"workspace"`
	MainFile       string `toml:"main_file"`
	PythonImage    string `toml:"python_image"`
	DockerUser     string `toml:"docker_user"`
	DockerCPUs     string `toml:"docker_cpus"`
	DockerMemory   string `toml:"docker_memory"`
	TmpfsSize      string `toml:"tmpfs_size"`
	OutputLimit    int    `toml:"output_limit"`
	SessionTimeout float64 `toml:"session_timeout"`
	IdleTimeout    float64 `toml:"idle_timeout"`
	DefaultCommand string `toml:"default_command"`
	LogLevel       string `toml:"log_level"`
	MetricsAddr    string `toml:"metrics_addr"`
}

var configPath string

// NewCommand builds the sandbox-runner cobra command.
func NewCommand() *cobra.Command {
	opt := &Option{}

	cmd := &cobra.Command{
		Use:   "sandbox-runner",
		Short: "Interactive program-execution sandbox exposed as an MCP tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				if err := applyTomlDefaults(cmd, configPath, opt); err != nil {
					return err
				}
			}
			return runServer(opt)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "optional TOML file supplying flag defaults")
	flags.StringVar(&opt.Workspace, "workspace", "", "path to extracted submission workspace (required)")
	flags.StringVar(&opt.MainFile, "main-file", "", "default python entrypoint, relative to workspace (required)")
	flags.StringVar(&opt.PythonImage, "python-image", envOr("PYTHON_RUNNER_IMAGE", "python:3.11"), "docker image used to run python")
	flags.StringVar(&opt.DockerUser, "docker-user", envOr("DOCKER_USER", "65534:65534"), "uid:gid the container runs as")
	flags.StringVar(&opt.DockerCPUs, "docker-cpus", envOr("DOCKER_CPUS", "0.5"), "cpu share passed to the runtime")
	flags.StringVar(&opt.DockerMemory, "docker-memory", envOr("DOCKER_MEMORY", "256m"), "memory cap passed to the runtime")
	flags.StringVar(&opt.TmpfsSize, "tmpfs-size", envOr("RUNNER_TMPFS_SIZE", "32m"), "size of the /tmp tmpfs")
	flags.IntVar(&opt.OutputLimit, "output-limit", 64*1024, "cumulative stdout+stderr byte cap")
	flags.Float64Var(&opt.SessionTimeout, "session-timeout", 60, "wall-clock seconds before a session is killed (0 = unlimited)")
	flags.Float64Var(&opt.IdleTimeout, "idle-timeout", 15, "idle seconds before a session is killed (0 = unlimited)")
	flags.StringVar(&opt.DefaultCommand, "default-command", "", "override the default command (otherwise python -u <main-file>)")
	flags.StringVar(&opt.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "logrus level")
	flags.StringVar(&opt.MetricsAddr, "metrics-addr", "", "optional address for the /metrics side server, e.g. :19104")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
	cmd.AddCommand(versionCmd)

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// applyTomlDefaults decodes path into a scratch Option and copies a field
// into opt only if the file actually defines the corresponding key *and*
// the user did not already pass the corresponding flag explicitly on the
// command line — file values are defaults, never overrides, so an explicit
// flag always wins regardless of file content, and an absent key never
// clobbers a flag-supplied default with a zero value.
func applyTomlDefaults(cmd *cobra.Command, path string, opt *Option) error {
	var fileOpt Option
	meta, err := toml.DecodeFile(path, &fileOpt)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	flags := cmd.Flags()
	apply := func(key, flagName string, dst *string, src string) {
		if meta.IsDefined(key) && !flags.Changed(flagName) {
			*dst = src
		}
	}
	applyInt := func(key, flagName string, dst *int, src int) {
		if meta.IsDefined(key) && !flags.Changed(flagName) {
			*dst = src
		}
	}
	applyFloat := func(key, flagName string, dst *float64, src float64) {
		if meta.IsDefined(key) && !flags.Changed(flagName) {
			*dst = src
		}
	}

	apply("workspace", "workspace", &opt.Workspace, fileOpt.Workspace)
	apply("main_file", "main-file", &opt.MainFile, fileOpt.MainFile)
	apply("python_image", "python-image", &opt.PythonImage, fileOpt.PythonImage)
	apply("docker_user", "docker-user", &opt.DockerUser, fileOpt.DockerUser)
	apply("docker_cpus", "docker-cpus", &opt.DockerCPUs, fileOpt.DockerCPUs)
	apply("docker_memory", "docker-memory", &opt.DockerMemory, fileOpt.DockerMemory)
	apply("tmpfs_size", "tmpfs-size", &opt.TmpfsSize, fileOpt.TmpfsSize)
	applyInt("output_limit", "output-limit", &opt.OutputLimit, fileOpt.OutputLimit)
	applyFloat("session_timeout", "session-timeout", &opt.SessionTimeout, fileOpt.SessionTimeout)
	applyFloat("idle_timeout", "idle-timeout", &opt.IdleTimeout, fileOpt.IdleTimeout)
	apply("default_command", "default-command", &opt.DefaultCommand, fileOpt.DefaultCommand)
	apply("log_level", "log-level", &opt.LogLevel, fileOpt.LogLevel)
	apply("metrics_addr", "metrics-addr", &opt.MetricsAddr, fileOpt.MetricsAddr)

	return nil
}
