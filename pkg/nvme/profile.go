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

import "fmt"

const (
	defaultFirmwareRevision = "0.0.1"
	defaultControllerID     = 1
	defaultMdts             = 1
	defaultMaxQueueEntries  = 63
	// CC.EN timeout in 500msec units
	defaultReadyTimeout = 4
)

// Profile is the fixed identity and capability set a discovery controller presents to every host.
// It is built once at startup and shared read only by all connections.
type Profile struct {
	capabilities     uint64
	version          uint32
	firmwareRevision string
	subsystemNQN     string
	controllerID     uint16
	mdts             uint8
	maxCmd           uint16
}

type ProfileOption func(*Profile)

func WithFirmwareRevision(fr string) ProfileOption {
	return func(p *Profile) { p.firmwareRevision = fr }
}

func WithSubsystemNQN(nqn string) ProfileOption {
	return func(p *Profile) { p.subsystemNQN = nqn }
}

func WithControllerID(id uint16) ProfileOption {
	return func(p *Profile) { p.controllerID = id }
}

// WithMdts sets the maximum data transfer size as a power of two of the minimum memory page size.
// 0 means no limit.
func WithMdts(mdts uint8) ProfileOption {
	return func(p *Profile) { p.mdts = mdts }
}

func NewProfile(opts ...ProfileOption) (*Profile, error) {
	p := &Profile{
		// command sets supported: NVMe command set, CC.EN timeout, CQR, MQES
		capabilities:     uint64(1)<<37 | uint64(defaultReadyTimeout)<<24 | uint64(1)<<16 | defaultMaxQueueEntries,
		version:          nvmeVS(1, 4, 0),
		firmwareRevision: defaultFirmwareRevision,
		subsystemNQN:     DiscoverySubsysName,
		controllerID:     defaultControllerID,
		mdts:             defaultMdts,
		maxCmd:           defaultMaxQueueEntries + 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.firmwareRevision) > 8 {
		return nil, fmt.Errorf("firmware revision %q longer than 8 bytes", p.firmwareRevision)
	}
	if len(p.subsystemNQN) == 0 || len(p.subsystemNQN) > 223 {
		return nil, fmt.Errorf("subsystem nqn %q must be 1-223 bytes", p.subsystemNQN)
	}
	if p.mdts > 8 {
		return nil, fmt.Errorf("mdts %d out of range [0, 8]", p.mdts)
	}
	return p, nil
}

// DefaultProfile returns the standard discovery service profile.
func DefaultProfile() *Profile {
	p, _ := NewProfile()
	return p
}

func (p *Profile) Capabilities() uint64     { return p.capabilities }
func (p *Profile) Version() uint32          { return p.version }
func (p *Profile) FirmwareRevision() string { return p.firmwareRevision }
func (p *Profile) SubsystemNQN() string     { return p.subsystemNQN }
func (p *Profile) ControllerID() uint16     { return p.controllerID }
func (p *Profile) Mdts() uint8              { return p.mdts }
func (p *Profile) MaxCmd() uint16           { return p.maxCmd }

// MaxTransferSize is the largest data phase a single command may request.
func (p *Profile) MaxTransferSize() uint32 {
	if p.mdts == 0 {
		return unlimitedTransferCap
	}
	return uint32(minMemoryPageSize) << p.mdts
}
