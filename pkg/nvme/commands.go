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
	"fmt"
	"reflect"
)

// Command is a decoded admin queue command. The concrete type carries only the fields
// its handler needs.
type Command interface {
	CommandID() uint16
	// Fabrics reports whether the command must be handled regardless of CC.EN.
	Fabrics() bool
	String() string
}

type commandHeader struct {
	cid    uint16
	opcode uint8
}

func (h commandHeader) CommandID() uint16 {
	return h.cid
}

func (h commandHeader) describe(c Command) string {
	return fmt.Sprintf("%s, id: %#04x. opcode: %s(%#02x)",
		reflect.TypeOf(c).String(), h.cid, OpcodeName(h.opcode), h.opcode)
}

type fabricsCommand struct{ commandHeader }

func (fabricsCommand) Fabrics() bool { return true }

type adminCommand struct{ commandHeader }

func (adminCommand) Fabrics() bool { return false }

// ConnectCommand creates the admin queue.
type ConnectCommand struct {
	fabricsCommand
	RecordFormat     uint16
	QueueID          uint16
	QueueSize        uint16
	Attributes       uint8
	KeepAliveTimeout uint32
}

func (c *ConnectCommand) String() string {
	return fmt.Sprintf("%s. recfmt: %d, qid: %d, sqsize: %d, kato: %d",
		c.describe(c), c.RecordFormat, c.QueueID, c.QueueSize, c.KeepAliveTimeout)
}

type PropertyGetCommand struct {
	fabricsCommand
	Offset uint32
	Size   int
}

func (c *PropertyGetCommand) String() string {
	return fmt.Sprintf("%s. property_get %s(%#02x), size: %d", c.describe(c), registerName(c.Offset), c.Offset, c.Size)
}

type PropertySetCommand struct {
	fabricsCommand
	Offset uint32
	Size   int
	Value  uint64
}

func (c *PropertySetCommand) String() string {
	return fmt.Sprintf("%s. property_set %s(%#02x), size: %d, value: %#x",
		c.describe(c), registerName(c.Offset), c.Offset, c.Size, c.Value)
}

// UnknownFabricsCommand is a fabrics command with a type this controller does not implement.
type UnknownFabricsCommand struct {
	fabricsCommand
	FabricsType uint8
}

func (c *UnknownFabricsCommand) String() string {
	return fmt.Sprintf("%s. fctype: %s(%#02x)", c.describe(c), fabricsTypeName(c.FabricsType), c.FabricsType)
}

type IdentifyCommand struct {
	adminCommand
	CNS          uint8
	ControllerID uint16
	NSID         uint32
}

func (c *IdentifyCommand) String() string {
	return fmt.Sprintf("%s. cns: %#02x, nsid: %d", c.describe(c), c.CNS, c.NSID)
}

type GetLogPageCommand struct {
	adminCommand
	LogID       uint8
	LogSpecific uint8
	RetainAsync bool
	// Length in bytes, always a multiple of 4.
	Length uint64
	Offset uint64
}

func (c *GetLogPageCommand) String() string {
	return fmt.Sprintf("%s. log: %s(%#02x), length: %d, offset: %d",
		c.describe(c), getLogPageName(c.LogID), c.LogID, c.Length, c.Offset)
}

type KeepAliveCommand struct {
	adminCommand
}

func (c *KeepAliveCommand) String() string {
	return c.describe(c)
}

// UnsupportedCommand is any admin opcode without a handler.
type UnsupportedCommand struct {
	adminCommand
	Opcode uint8
}

func (c *UnsupportedCommand) String() string {
	return c.describe(c)
}

type commandParser func(c *Capsule) Command

var adminParsers = map[uint8]commandParser{
	OpcodeIdentify:   parseIdentify,
	OpcodeGetLogPage: parseGetLogPage,
	OpcodeKeepAlive:  parseKeepAlive,
}

var fabricsParsers = map[uint8]commandParser{
	FabricsTypeConnect:     parseConnect,
	FabricsTypePropertyGet: parsePropertyGet,
	FabricsTypePropertySet: parsePropertySet,
}

// ParseCommand maps a capsule to its command variant. It never fails: unknown opcodes and
// fabrics types get their own variants so they can be answered with a status.
func ParseCommand(c *Capsule) Command {
	if c.Opcode == OpcodeFabrics {
		if parse, ok := fabricsParsers[c.FabricsType()]; ok {
			return parse(c)
		}
		return &UnknownFabricsCommand{fabricsCommand: fabricsCommand{header(c)}, FabricsType: c.FabricsType()}
	}
	if parse, ok := adminParsers[c.Opcode]; ok {
		return parse(c)
	}
	return &UnsupportedCommand{adminCommand: adminCommand{header(c)}, Opcode: c.Opcode}
}

func header(c *Capsule) commandHeader {
	return commandHeader{cid: c.CommandID, opcode: c.Opcode}
}

func parseConnect(c *Capsule) Command {
	return &ConnectCommand{
		fabricsCommand:   fabricsCommand{header(c)},
		RecordFormat:     uint16(c.Cdw10 & 0xffff),
		QueueID:          uint16(c.Cdw10 >> 16),
		QueueSize:        uint16(c.Cdw11 & 0xffff),
		Attributes:       uint8(c.Cdw11 >> 16),
		KeepAliveTimeout: c.Cdw12,
	}
}

// propertySize decodes ATTRIB.SIZE, 0 for a reserved encoding.
func propertySize(attrib uint8) int {
	switch attrib & 0x7 {
	case 0:
		return PropertySize4
	case 1:
		return PropertySize8
	default:
		return 0
	}
}

func parsePropertyGet(c *Capsule) Command {
	return &PropertyGetCommand{
		fabricsCommand: fabricsCommand{header(c)},
		Size:           propertySize(uint8(c.Cdw10)),
		Offset:         c.Cdw11,
	}
}

func parsePropertySet(c *Capsule) Command {
	return &PropertySetCommand{
		fabricsCommand: fabricsCommand{header(c)},
		Size:           propertySize(uint8(c.Cdw10)),
		Offset:         c.Cdw11,
		Value:          uint64(c.Cdw12) | uint64(c.Cdw13)<<32,
	}
}

func parseIdentify(c *Capsule) Command {
	return &IdentifyCommand{
		adminCommand: adminCommand{header(c)},
		CNS:          uint8(c.Cdw10),
		ControllerID: uint16(c.Cdw10 >> 16),
		NSID:         c.NSID,
	}
}

func parseGetLogPage(c *Capsule) Command {
	numd := (c.Cdw11&0xffff)<<16 | c.Cdw10>>16
	return &GetLogPageCommand{
		adminCommand: adminCommand{header(c)},
		LogID:        uint8(c.Cdw10),
		LogSpecific:  uint8(c.Cdw10>>8) & 0xf,
		RetainAsync:  c.Cdw10&(1<<15) != 0,
		Length:       (uint64(numd) + 1) * 4,
		Offset:       uint64(c.Cdw13)<<32 | uint64(c.Cdw12),
	}
}

func parseKeepAlive(c *Capsule) Command {
	return &KeepAliveCommand{adminCommand: adminCommand{header(c)}}
}
