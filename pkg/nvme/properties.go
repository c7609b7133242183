// Copyright 2016--2022 Lightbits Labs Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// you may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package nvme

// Property access widths in bytes.
const (
	PropertySize4 = 4
	PropertySize8 = 8
)

// Properties is the register block of one controller. It is owned by a single admin queue
// and is not safe for concurrent use.
type Properties struct {
	cap  uint64
	vs   uint32
	cc   uint32
	csts uint32
}

func NewProperties(profile *Profile) *Properties {
	return &Properties{
		cap: profile.Capabilities(),
		vs:  profile.Version(),
	}
}

func ccEnabled(cc uint32) bool {
	return (cc>>ccEnableShift)&0x1 != 0
}

func ccShutdown(cc uint32) bool {
	return (cc>>ccShutdownShift)&0x3 != 0
}

// IsEnabled reports CC.EN.
func (p *Properties) IsEnabled() bool {
	return ccEnabled(p.cc)
}

// Get reads the property at offset. CAP is the only 8 byte property.
func (p *Properties) Get(offset uint32, size int) (uint64, Status) {
	if size == PropertySize8 {
		if offset != RegCAP {
			return 0, StatusInvalidField
		}
		return p.cap, StatusSuccess
	}
	if size != PropertySize4 {
		return 0, StatusInvalidField
	}
	switch offset {
	case RegVS:
		return uint64(p.vs), StatusSuccess
	case RegCC:
		return uint64(p.cc), StatusSuccess
	case RegCSTS:
		return uint64(p.csts), StatusSuccess
	default:
		return 0, StatusInvalidField
	}
}

// Set writes the property at offset. Only CC is writable.
func (p *Properties) Set(offset uint32, size int, value uint64) Status {
	if offset != RegCC || size != PropertySize4 {
		return StatusInvalidField
	}
	p.updateControllerConfiguration(uint32(value))
	return StatusSuccess
}

func (p *Properties) updateControllerConfiguration(value uint32) {
	old := p.cc
	p.cc = value

	if ccEnabled(p.cc) && !ccEnabled(old) {
		p.csts |= cstsReady
	}
	if !ccEnabled(p.cc) && ccEnabled(old) {
		p.csts &^= cstsReady
	}
	if ccShutdown(p.cc) && !ccShutdown(old) {
		p.csts |= cstsShutdownComplete
	}
	if !ccShutdown(p.cc) && ccShutdown(old) {
		p.csts &^= cstsShutdownComplete
	}
}
