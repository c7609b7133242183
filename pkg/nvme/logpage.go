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

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

// DiscoveryEntry describes one NVM subsystem port advertised in the discovery log page.
type DiscoveryEntry struct {
	TransportType      uint8
	AddressFamily      uint8
	SubsystemType      SubsystemType
	Treq               uint8
	PortID             uint16
	TransportServiceID string
	SubsystemNQN       string
	TransportAddress   string
}

// DiscoveryLog is the source of discovery log page records.
type DiscoveryLog interface {
	// Snapshot returns the entries together with the generation counter they belong to.
	// The counter changes whenever the entries change.
	Snapshot() (genctr uint64, entries []DiscoveryEntry)
}

type emptyDiscoveryLog struct{}

func (emptyDiscoveryLog) Snapshot() (uint64, []DiscoveryEntry) { return 0, nil }

// DiscoveryLogHeader is the discovery log page header.
type DiscoveryLogHeader struct {
	GenCtr uint64      `struc:"uint64,little"`
	NumRec uint64      `struc:"uint64,little"`
	RecFmt uint16      `struc:"uint16,little"`
	Rsvd18 [1006]uint8 `struc:"[1006]uint8"`
}

// DiscoveryLogEntry is one discovery log page entry as it is laid out on the wire.
type DiscoveryLogEntry struct {
	TrType  uint8      `struc:"uint8"`
	AdrFam  uint8      `struc:"uint8"`
	SubType uint8      `struc:"uint8"`
	Treq    uint8      `struc:"uint8"`
	PortID  uint16     `struc:"uint16,little"`
	CntlID  uint16     `struc:"uint16,little"`
	Asqsz   uint16     `struc:"uint16,little"`
	Rsvd10  [22]uint8  `struc:"[22]uint8"`
	TrsvcID [32]uint8  `struc:"[32]uint8"`
	Rsvd64  [192]uint8 `struc:"[192]uint8"`
	Subnqn  [256]uint8 `struc:"[256]uint8"`
	Traddr  [256]uint8 `struc:"[256]uint8"`
	Tsas    [256]uint8 `struc:"[256]uint8"`
}

func newDiscoveryLogEntry(e DiscoveryEntry) *DiscoveryLogEntry {
	entry := &DiscoveryLogEntry{
		TrType:  e.TransportType,
		AdrFam:  e.AddressFamily,
		SubType: uint8(e.SubsystemType),
		Treq:    e.Treq,
		PortID:  e.PortID,
		CntlID:  cntlIDDynamic,
		Asqsz:   adminQueueDepth,
	}
	copy(entry.TrsvcID[:], e.TransportServiceID)
	copy(entry.Subnqn[:], e.SubsystemNQN)
	copy(entry.Traddr[:], e.TransportAddress)
	return entry
}

func (e *DiscoveryLogEntry) Entry() DiscoveryEntry {
	return DiscoveryEntry{
		TransportType:      e.TrType,
		AddressFamily:      e.AdrFam,
		SubsystemType:      SubsystemType(e.SubType),
		Treq:               e.Treq,
		PortID:             e.PortID,
		TransportServiceID: trimNull(e.TrsvcID[:]),
		SubsystemNQN:       trimNull(e.Subnqn[:]),
		TransportAddress:   trimNull(e.Traddr[:]),
	}
}

// BuildDiscoveryLogPage renders the complete discovery log page image.
func BuildDiscoveryLogPage(genctr uint64, entries []DiscoveryEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(DiscoveryHeaderSize + len(entries)*DiscoveryEntrySize)
	hdr := &DiscoveryLogHeader{GenCtr: genctr, NumRec: uint64(len(entries))}
	if err := struc.Pack(&buf, hdr); err != nil {
		return nil, fmt.Errorf("encode discovery log header: %w", err)
	}
	for i := range entries {
		if err := struc.Pack(&buf, newDiscoveryLogEntry(entries[i])); err != nil {
			return nil, fmt.Errorf("encode discovery log entry %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeDiscoveryLogHeader parses the first DiscoveryHeaderSize bytes of a page.
func DecodeDiscoveryLogHeader(b []byte) (*DiscoveryLogHeader, error) {
	if len(b) < DiscoveryHeaderSize {
		return nil, fmt.Errorf("%w: discovery log header needs %d bytes, got %d", ErrShortCapsule, DiscoveryHeaderSize, len(b))
	}
	hdr := &DiscoveryLogHeader{}
	if err := struc.Unpack(bytes.NewReader(b[:DiscoveryHeaderSize]), hdr); err != nil {
		return nil, fmt.Errorf("decode discovery log header: %w", err)
	}
	return hdr, nil
}

// DecodeDiscoveryLogPage parses a page image as produced by BuildDiscoveryLogPage.
// Records beyond the end of b are not returned.
func DecodeDiscoveryLogPage(b []byte) (*DiscoveryLogHeader, []DiscoveryEntry, error) {
	hdr, err := DecodeDiscoveryLogHeader(b)
	if err != nil {
		return nil, nil, err
	}
	var entries []DiscoveryEntry
	r := bytes.NewReader(b[DiscoveryHeaderSize:])
	for i := uint64(0); i < hdr.NumRec && r.Len() >= DiscoveryEntrySize; i++ {
		entry := &DiscoveryLogEntry{}
		if err := struc.Unpack(r, entry); err != nil {
			return nil, nil, fmt.Errorf("decode discovery log entry %d: %w", i, err)
		}
		entries = append(entries, entry.Entry())
	}
	return hdr, entries, nil
}

// pageWindow returns exactly length bytes of page starting at offset, zero filled past its end.
func pageWindow(page []byte, offset uint64, length uint64) []byte {
	window := make([]byte, length)
	if offset < uint64(len(page)) {
		copy(window, page[offset:])
	}
	return window
}

func (d *Dispatcher) getLogPage(cmd *GetLogPageCommand) commandResult {
	if cmd.LogID != LogDiscovery {
		d.log.Warnf("unsupported log page %s(%#02x)", getLogPageName(cmd.LogID), cmd.LogID)
		return commandResult{status: StatusInvalidField}
	}
	if cmd.Offset%4 != 0 {
		d.log.Warnf("log page offset %d is not dword aligned", cmd.Offset)
		return commandResult{status: StatusInvalidField}
	}
	if cmd.Length > uint64(d.profile.MaxTransferSize()) {
		d.log.Warnf("log page length %d exceeds max transfer size %d", cmd.Length, d.profile.MaxTransferSize())
		return commandResult{status: StatusInvalidField}
	}

	page, err := BuildDiscoveryLogPage(d.discovery.Snapshot())
	if err != nil {
		d.log.WithError(err).Error("failed to build discovery log page")
		return commandResult{status: StatusInternal}
	}
	return commandResult{status: StatusSuccess, data: pageWindow(page, cmd.Offset, cmd.Length)}
}
