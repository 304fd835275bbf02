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
	"io"
	"sort"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// PrometheusNamespace prefixes every exported metric name.
const PrometheusNamespace = "kernsim"

// PrometheusName converts a metric name such as "/mm/frames/allocated" to
// "kernsim_mm_frames_allocated".
func PrometheusName(name string) string {
	name = strings.Trim(name, "/")
	name = strings.NewReplacer("/", "_", "-", "_", ".", "_").Replace(name)
	return PrometheusNamespace + "_" + name
}

// MetricFamilies converts all registered metrics to Prometheus counters.
func MetricFamilies() []*dto.MetricFamily {
	var families []*dto.MetricFamily
	for _, s := range Snapshots() {
		mf := &dto.MetricFamily{
			Name: ptr(PrometheusName(s.Name)),
			Help: ptr(s.Description),
			Type: dto.MetricType_COUNTER.Enum(),
		}
		for _, sample := range s.Samples {
			m := &dto.Metric{Counter: &dto.Counter{Value: ptr(float64(sample.Value))}}
			names := make([]string, 0, len(sample.Fields))
			for k := range sample.Fields {
				names = append(names, k)
			}
			sort.Strings(names)
			for _, k := range names {
				m.Label = append(m.Label, &dto.LabelPair{Name: ptr(k), Value: ptr(sample.Fields[k])})
			}
			mf.Metric = append(mf.Metric, m)
		}
		families = append(families, mf)
	}
	return families
}

// WritePrometheus writes all registered metrics to w in the Prometheus text
// exposition format.
func WritePrometheus(w io.Writer) error {
	for _, mf := range MetricFamilies() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
