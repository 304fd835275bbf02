// Copyright 2026 The Kernsim Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides basic infrastructure to set configuration settings
// for kernsim. Global settings come from command line flags; each simulated
// machine is described by a machine file.
package config

import (
	"fmt"

	"github.com/jsnal/os-sub000/pkg/log"
)

// Config holds configuration that is not part of a machine file.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format. "text" is coloured when written to a
	// terminal.
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// DebugLog is a file that receives a JSON copy of the log.
	DebugLog string `flag:"debug-log"`

	// MaxTicks overrides the tick limit of every machine. Zero keeps the
	// machine file's value.
	MaxTicks uint64 `flag:"max-ticks"`

	// Quantum overrides the scheduler quantum of every machine.
	Quantum uint32 `flag:"quantum"`

	// MetricsFile receives the Prometheus metrics when a command finishes.
	// "-" is standard output.
	MetricsFile string `flag:"metrics"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.MaxTicks: %d", c.MaxTicks)
	log.Infof("Config.Quantum: %d", c.Quantum)
}
