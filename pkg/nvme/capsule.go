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
	"errors"
	"fmt"
	"reflect"

	"github.com/lunixbochs/struc"
)

var (
	// ErrCapsuleSize is returned when a command capsule is not exactly CapsuleSize bytes.
	ErrCapsuleSize = errors.New("invalid command capsule size")
	// ErrShortCapsule is returned when a data or completion capsule is truncated.
	ErrShortCapsule = errors.New("short capsule")
)

type DataPtr struct {
	Part1 uint64   `struc:"uint64,little"`
	Part2 [8]uint8 `struc:"[8]uint8"`
}

// Capsule is a submission queue entry.
// https://nvmexpress.org/wp-content/uploads/NVM-Express-1_4-2019.06.10-Ratified.pdf
// Figure 105: Command Format – Admin and NVM Command Set
type Capsule struct {
	Opcode    uint8  `struc:"uint8"`
	Flags     uint8  `struc:"uint8"`
	CommandID uint16 `struc:"uint16,little"`
	NSID      uint32 `struc:"uint32,little"`
	Cdw2      uint32 `struc:"uint32,little"`
	Cdw3      uint32 `struc:"uint32,little"`
	Metadata  uint64 `struc:"uint64,little"`
	Dptr      DataPtr
	// CDW10 command specific Dword 10.
	Cdw10 uint32 `struc:"uint32,little"`
	// CDW11 command specific Dword 11.
	Cdw11 uint32 `struc:"uint32,little"`
	// CDW12 command specific Dword 12.
	Cdw12 uint32 `struc:"uint32,little"`
	// CDW13 command specific Dword 13.
	Cdw13 uint32 `struc:"uint32,little"`
	// CDW14 command specific Dword 14.
	Cdw14 uint32 `struc:"uint32,little"`
	// CDW15 command specific Dword 15.
	Cdw15 uint32 `struc:"uint32,little"`
}

// FabricsType is byte 4 of a fabrics command (the low byte of the nsid dword).
func (c *Capsule) FabricsType() uint8 {
	return uint8(c.NSID & 0xff)
}

func (c *Capsule) String() string {
	if c.Opcode == OpcodeFabrics {
		return fmt.Sprintf("%s, id: %#04x. opcode: %s(%#02x). fctype: %s(%#02x)",
			reflect.TypeOf(c).String(), c.CommandID,
			OpcodeName(c.Opcode), c.Opcode, fabricsTypeName(c.FabricsType()), c.FabricsType())
	}
	return fmt.Sprintf("%s, id: %#04x. opcode: %s(%#02x). nsid: %d",
		reflect.TypeOf(c).String(), c.CommandID,
		OpcodeName(c.Opcode), c.Opcode, c.NSID)
}

// DecodeCapsule parses one submission queue entry. Only the size is validated.
func DecodeCapsule(b []byte) (*Capsule, error) {
	if len(b) != CapsuleSize {
		return nil, fmt.Errorf("%w: got %d bytes, expected %d", ErrCapsuleSize, len(b), CapsuleSize)
	}
	c := &Capsule{}
	if err := struc.Unpack(bytes.NewReader(b), c); err != nil {
		return nil, fmt.Errorf("decode capsule: %w", err)
	}
	return c, nil
}

// EncodeCapsule is the inverse of DecodeCapsule, used by hosts.
func EncodeCapsule(c *Capsule) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, c); err != nil {
		return nil, fmt.Errorf("encode capsule: %w", err)
	}
	return buf.Bytes(), nil
}

// DataHeader precedes the payload of a data capsule.
type DataHeader struct {
	CommandID  uint16 `struc:"uint16,little"`
	Rsvd2      uint16 `struc:"uint16,little"`
	DataOffset uint32 `struc:"uint32,little"`
	DataLength uint32 `struc:"uint32,little"`
	Rsvd12     uint32 `struc:"uint32,little"`
}

// EncodeData builds a data capsule carrying exactly length bytes of payload,
// truncating or zero filling as needed.
func EncodeData(commandID uint16, payload []byte, length uint32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(DataHeaderSize + int(length))
	hdr := &DataHeader{CommandID: commandID, DataLength: length}
	if err := struc.Pack(&buf, hdr); err != nil {
		return nil, fmt.Errorf("encode data header: %w", err)
	}
	body := make([]byte, length)
	copy(body, payload)
	buf.Write(body)
	return buf.Bytes(), nil
}

// DecodeData splits a data capsule into its header and payload.
func DecodeData(b []byte) (*DataHeader, []byte, error) {
	if len(b) < DataHeaderSize {
		return nil, nil, fmt.Errorf("%w: data header needs %d bytes, got %d", ErrShortCapsule, DataHeaderSize, len(b))
	}
	hdr := &DataHeader{}
	if err := struc.Unpack(bytes.NewReader(b[:DataHeaderSize]), hdr); err != nil {
		return nil, nil, fmt.Errorf("decode data header: %w", err)
	}
	payload := b[DataHeaderSize:]
	if uint32(len(payload)) < hdr.DataLength {
		return nil, nil, fmt.Errorf("%w: data length %d, got %d", ErrShortCapsule, hdr.DataLength, len(payload))
	}
	return hdr, payload[:hdr.DataLength], nil
}
