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

package metric

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/common/expfmt"
)

func TestFieldMapper(t *testing.T) {
	fm, err := newFieldMapper(
		NewField("pool", []string{"kernel", "user"}),
		NewField("op", []string{"alloc", "free", "reserve"}),
	)
	if err != nil {
		t.Fatalf("newFieldMapper: %v", err)
	}
	seen := make(map[int]bool)
	for _, pool := range []string{"kernel", "user"} {
		for _, op := range []string{"alloc", "free", "reserve"} {
			key := fm.lookup(pool, op)
			if seen[key] {
				t.Fatalf("lookup(%s, %s): key %d reused", pool, op, key)
			}
			seen[key] = true
			if diff := cmp.Diff([]string{pool, op}, fm.keyToMultiField(key)); diff != "" {
				t.Errorf("keyToMultiField(%d) mismatch (-want +got):\n%s", key, diff)
			}
		}
	}
	if _, err := newFieldMapper(NewField("empty", nil)); err != ErrFieldHasNoAllowedValues {
		t.Errorf("newFieldMapper(empty): got %v, want %v", err, ErrFieldHasNoAllowedValues)
	}
}

func TestUint64Metric(t *testing.T) {
	m := MustCreateNewUint64Metric("/test/counter", "A test counter.", NewField("kind", []string{"a", "b"}))
	m.Increment("a")
	m.IncrementBy(4, "b")
	m.Increment("b")
	if got := m.Value("a"); got != 1 {
		t.Errorf("Value(a): got %d, want 1", got)
	}
	if got := m.Value("b"); got != 5 {
		t.Errorf("Value(b): got %d, want 5", got)
	}
	if _, err := NewUint64Metric("/test/counter", "duplicate"); err != ErrNameInUse {
		t.Errorf("NewUint64Metric(duplicate): got %v, want %v", err, ErrNameInUse)
	}
}

func TestWritePrometheus(t *testing.T) {
	m := MustCreateNewUint64Metric("/test/exported", "Exported counter.")
	m.IncrementBy(3)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	families, err := (&expfmt.TextParser{}).TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("TextToMetricFamilies: %v", err)
	}
	mf, ok := families["kernsim_test_exported"]
	if !ok {
		t.Fatalf("kernsim_test_exported not exported; got %d families", len(families))
	}
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Errorf("counter value: got %v, want 3", got)
	}
	if got := mf.GetHelp(); got != "Exported counter." {
		t.Errorf("help: got %q", got)
	}
}

func TestPrometheusName(t *testing.T) {
	if got, want := PrometheusName("/mm/frames/allocated"), "kernsim_mm_frames_allocated"; got != want {
		t.Errorf("PrometheusName: got %q, want %q", got, want)
	}
}
