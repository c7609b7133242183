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

// StatusCodeType (SCT) groups status codes.
type StatusCodeType uint8

const (
	SCTGeneric         StatusCodeType = 0x0
	SCTCommandSpecific StatusCodeType = 0x1
	SCTMediaError      StatusCodeType = 0x2
	SCTPath            StatusCodeType = 0x3
)

// Status is the 15 bit status field of a completion before it is shifted above the phase bit:
// bits 0-7 status code, bits 8-10 status code type, bit 14 do-not-retry.
type Status uint16

const (
	statusDNR Status = 0x4000

	StatusSuccess             Status = 0x0000
	StatusInvalidOpcode       Status = 0x0001 | statusDNR
	StatusInvalidField        Status = 0x0002 | statusDNR
	StatusInternal            Status = 0x0006 | statusDNR
	StatusCommandSequence     Status = 0x000c
	StatusInvalidLogPage      Status = 0x0109 | statusDNR
	StatusConnectFormat       Status = 0x0180 | statusDNR
	StatusConnectInvalidParam Status = 0x0182 | statusDNR
	StatusConnectInvalidHost  Status = 0x0184 | statusDNR
)

// MakeStatus composes a status from its type and code.
func MakeStatus(sct StatusCodeType, sc uint8, dnr bool) Status {
	s := Status(sct&0x7)<<8 | Status(sc)
	if dnr {
		s |= statusDNR
	}
	return s
}

func (s Status) CodeType() StatusCodeType {
	return StatusCodeType((s >> 8) & 0x7)
}

func (s Status) Code() uint8 {
	return uint8(s & 0xff)
}

func (s Status) DoNotRetry() bool {
	return s&statusDNR != 0
}

func (s Status) IsSuccess() bool {
	return s.CodeType() == SCTGeneric && s.Code() == 0
}

// wire returns the status as it appears in the completion dword 3 upper half.
func (s Status) wire() uint16 {
	return uint16(s) << 1
}

func statusFromWire(v uint16) Status {
	return Status(v >> 1)
}

func (s Status) String() string {
	switch s &^ statusDNR {
	case StatusSuccess:
		return "success"
	case StatusInvalidOpcode &^ statusDNR:
		return "invalid_opcode"
	case StatusInvalidField &^ statusDNR:
		return "invalid_field"
	case StatusInternal &^ statusDNR:
		return "internal_error"
	case StatusCommandSequence:
		return "command_sequence_error"
	case StatusInvalidLogPage &^ statusDNR:
		return "invalid_log_page"
	case StatusConnectFormat &^ statusDNR:
		return "connect_incompatible_format"
	case StatusConnectInvalidParam &^ statusDNR:
		return "connect_invalid_parameters"
	case StatusConnectInvalidHost &^ statusDNR:
		return "connect_invalid_host"
	default:
		return fmt.Sprintf("sct=%#x,sc=%#02x", uint8(s.CodeType()), s.Code())
	}
}
