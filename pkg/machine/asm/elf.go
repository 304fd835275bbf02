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

package asm

import (
	"debug/elf"

	"github.com/jsnal/os-sub000/pkg/loader"
)

// ELF returns p as a static executable: text is read-execute and data, if
// any, is read-write.
func (p *Program) ELF() []byte {
	segs := []loader.BuildSegment{{
		Vaddr: p.TextBase,
		Data:  p.Text,
		Flags: elf.PF_R | elf.PF_X,
	}}
	if len(p.Data) > 0 {
		segs = append(segs, loader.BuildSegment{
			Vaddr: p.DataBase,
			Data:  p.Data,
			Flags: elf.PF_R | elf.PF_W,
		})
	}
	return loader.Build(p.Entry, segs)
}
