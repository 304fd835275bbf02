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

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	want := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(want, tw.lines); diff != "" {
		t.Errorf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := BasicLogger{Level: Info, Emitter: &Writer{Next: &buf}}
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d", 2)
	l.Warningf("shown %d", 3)
	if got, want := buf.String(), "shown 2\nshown 3\n"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) after SetLevel(Debug): got false")
	}
}

func TestLogrusEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := NewLogrusEmitter(&buf, "json").With("machine", "m0")
	l := BasicLogger{Level: Debug, Emitter: e}
	l.Infof("booted in %d ticks", 7)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", buf.String(), err)
	}
	if got, want := entry["msg"], "booted in 7 ticks"; got != want {
		t.Errorf("msg: got %v, want %v", got, want)
	}
	if got, want := entry["level"], "info"; got != want {
		t.Errorf("level: got %v, want %v", got, want)
	}
	if got, want := entry["machine"], "m0"; got != want {
		t.Errorf("machine: got %v, want %v", got, want)
	}
	if caller, _ := entry["caller"].(string); !strings.HasPrefix(caller, "log_test.go:") {
		t.Errorf("caller: got %q, want log_test.go:<line>", caller)
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	e.Emit(0, Warning, time.Unix(0, 0).UTC(), "fault at %#x", 0x1000)

	var got jsonLog
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q): %v", buf.String(), err)
	}
	if got.Level != Warning {
		t.Errorf("Level: got %v, want %v", got.Level, Warning)
	}
	if !strings.HasSuffix(got.Msg, "] fault at 0x1000") {
		t.Errorf("Msg: got %q", got.Msg)
	}
}

func TestLevelMarshal(t *testing.T) {
	for _, lv := range []Level{Warning, Info, Debug} {
		bs, err := lv.MarshalJSON()
		if err != nil {
			t.Errorf("error marshaling %v: %v", lv, err)
		}
		var lv2 Level
		if err := lv2.UnmarshalJSON(bs); err != nil {
			t.Errorf("error unmarshaling %v: %v", bs, err)
		}
		if lv != lv2 {
			t.Errorf("marshal/unmarshal level got %v wanted %v", lv2, lv)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"warning": Warning, "WARN": Warning, "info": Info, "Debug": Debug} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q): got (%v, %v), want (%v, nil)", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Errorf("ParseLevel(loud): got nil error")
	}
}

type countingLogger struct {
	n int
}

func (c *countingLogger) Debugf(string, ...any)   { c.n++ }
func (c *countingLogger) Infof(string, ...any)    { c.n++ }
func (c *countingLogger) Warningf(string, ...any) { c.n++ }
func (c *countingLogger) IsLogging(Level) bool    { return true }

func TestRateLimitedLogger(t *testing.T) {
	c := &countingLogger{}
	l := RateLimitedLogger(c, time.Hour)
	for i := 0; i < 10; i++ {
		l.Warningf("unknown syscall %d", i)
	}
	if c.n != 1 {
		t.Errorf("got %d messages through the limiter, want 1", c.n)
	}
}
