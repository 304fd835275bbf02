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

// Package cmd holds implementations of the kernsim commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/metric"
	"github.com/jsnal/os-sub000/kernsim/config"
)

// Fatalf logs and exits with a failure status.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("FATAL: %s", msg)
	fmt.Fprintf(os.Stderr, "kernsim: %s\n", msg)
	os.Exit(128)
}

// failure logs an error and returns the failure status for Execute.
func failure(format string, args ...any) subcommands.ExitStatus {
	msg := fmt.Sprintf(format, args...)
	log.Warningf("%s", msg)
	fmt.Fprintf(os.Stderr, "kernsim: %s\n", msg)
	return subcommands.ExitFailure
}

// writeMetrics writes the registered metrics to the file named by
// conf.MetricsFile, if any.
func writeMetrics(conf *config.Config) error {
	if conf.MetricsFile == "" {
		return nil
	}
	var w io.Writer = os.Stdout
	if conf.MetricsFile != "-" {
		f, err := os.Create(conf.MetricsFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return metric.WritePrometheus(w)
}
