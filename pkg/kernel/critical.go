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

package kernel

// EnterCritical disables interrupts. Critical sections nest; interrupts are
// restored when the outermost one exits.
func (k *Kernel) EnterCritical() {
	if k.depth >= MaxCriticalDepth {
		panic(k.m.Panicf(nil, "critical section nested deeper than %d", MaxCriticalDepth))
	}
	if k.depth == 0 {
		k.savedIF = k.m.InterruptsEnabled()
		k.m.DisableInterrupts()
	}
	k.depth++
}

// ExitCritical leaves a critical section entered with EnterCritical.
func (k *Kernel) ExitCritical() {
	if k.depth == 0 {
		panic(k.m.Panicf(nil, "critical section exit without enter"))
	}
	k.depth--
	if k.depth == 0 && k.savedIF {
		k.m.EnableInterrupts()
	}
}

// Critical enters a critical section and returns the function that leaves
// it:
//
//	defer k.Critical()()
//
// It must not be used on paths that may switch away.
func (k *Kernel) Critical() func() {
	k.EnterCritical()
	return k.ExitCritical
}

// CriticalDepth returns the nesting depth of the current critical section.
func (k *Kernel) CriticalDepth() int { return k.depth }
