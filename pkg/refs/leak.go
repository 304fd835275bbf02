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

package refs

import (
	"fmt"
	"sort"

	"github.com/jsnal/os-sub000/pkg/log"
	"github.com/jsnal/os-sub000/pkg/sync"
)

// CheckedObject represents a reference-counted object with an informative
// leak detection message.
type CheckedObject interface {
	// RefType is the type of the reference-counted object.
	RefType() string

	// LeakMessage supplies a warning to be printed upon leak detection.
	LeakMessage() string
}

// Registry tracks live reference-counted objects. The zero value is ready to
// use.
type Registry struct {
	mu   sync.Mutex
	live map[CheckedObject]struct{}
}

// Register adds obj to the live object map.
func (r *Registry) Register(obj CheckedObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = make(map[CheckedObject]struct{})
	}
	if _, ok := r.live[obj]; ok {
		panic(fmt.Sprintf("Unexpected entry in leak checking map: reference %p already added", obj))
	}
	r.live[obj] = struct{}{}
}

// Unregister removes obj from the live object map.
func (r *Registry) Unregister(obj CheckedObject) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[obj]; !ok {
		panic(fmt.Sprintf("Expected to find entry in leak checking map for reference %p", obj))
	}
	delete(r.live, obj)
}

// Live returns the number of registered objects.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// DoLeakCheck logs a warning for each object still registered and returns
// the leak messages, sorted. It should be called when no reference-counted
// objects are reachable anymore, at which point anything left is a leak.
func (r *Registry) DoLeakCheck() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.live) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.live))
	for obj := range r.live {
		msgs = append(msgs, fmt.Sprintf("[%s] %s", obj.RefType(), obj.LeakMessage()))
	}
	sort.Strings(msgs)
	log.Warningf("Leak checking detected %d leaked objects:\n%v", len(msgs), msgs)
	return msgs
}
