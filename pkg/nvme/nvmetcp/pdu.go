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

// Package nvmetcp frames admin queue capsules over NVMe/TCP.
// https://nvmexpress.org/wp-content/uploads/NVM-Express-TCP-Transport-Specification-2021.06.02-Ratified.pdf
package nvmetcp

import (
	"fmt"
	"io"

	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lunixbochs/struc"
)

// PDU types.
const (
	PDUTypeICReq   uint8 = 0x00
	PDUTypeICResp  uint8 = 0x01
	PDUTypeH2CTerm uint8 = 0x02
	PDUTypeC2HTerm uint8 = 0x03
	PDUTypeCmd     uint8 = 0x04
	PDUTypeRsp     uint8 = 0x05
	PDUTypeH2CData uint8 = 0x06
	PDUTypeC2HData uint8 = 0x07
	PDUTypeR2T     uint8 = 0x09
)

const (
	FlagDataLast uint8  = 0x04
	PFV10        uint16 = 0x0

	defaultMaxH2C = 0x10000
)

// PDU header lengths.
const (
	CommonHeaderSize = 8
	ICReqSize        = 128
	ICRespSize       = 128
	CmdSize          = CommonHeaderSize + nvme.CapsuleSize
	RspSize          = CommonHeaderSize + nvme.CompletionSize
	DataSize         = CommonHeaderSize + nvme.DataHeaderSize
	TermSize         = 24
)

// Fatal error status of a termination request.
const (
	FESInvalidHeaderField uint16 = 0x01
	FESPDUSequenceError   uint16 = 0x02
	FESInvalidDataLength  uint16 = 0x05
)

type Header struct {
	Type  uint8  `struc:"uint8"`
	Flags uint8  `struc:"uint8"`
	Hlen  uint8  `struc:"uint8"`
	Pdo   uint8  `struc:"uint8"`
	Plen  uint32 `struc:"uint32,little"`
}

type ICReq struct {
	Pfv      uint16     `struc:"uint16,little"`
	Hpda     uint8      `struc:"uint8"`
	Digest   uint8      `struc:"uint8"`
	Maxr2t   uint32     `struc:"uint32,little"`
	Reserved [112]uint8 `struc:"[112]uint8"`
}

type ICResp struct {
	Pfv      uint16     `struc:"uint16,little"`
	Cpda     uint8      `struc:"uint8"`
	Digest   uint8      `struc:"uint8"`
	Maxdata  uint32     `struc:"uint32,little"`
	Reserved [112]uint8 `struc:"[112]uint8"`
}

// TermReq is the specific header of both termination request PDUs.
type TermReq struct {
	Fes      uint16    `struc:"uint16,little"`
	Fei      uint32    `struc:"uint32,little"`
	Reserved [10]uint8 `struc:"[10]uint8"`
}

// PDUError is a framing violation. The connection cannot continue after one.
type PDUError struct {
	Type   uint8
	Reason string
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("nvme-tcp pdu %s(%#02x): %s", pduTypeName(e.Type), e.Type, e.Reason)
}

func pduTypeName(t uint8) string {
	switch t {
	case PDUTypeICReq:
		return "icreq"
	case PDUTypeICResp:
		return "icresp"
	case PDUTypeH2CTerm:
		return "h2c_term"
	case PDUTypeC2HTerm:
		return "c2h_term"
	case PDUTypeCmd:
		return "cmd"
	case PDUTypeRsp:
		return "rsp"
	case PDUTypeH2CData:
		return "h2c_data"
	case PDUTypeC2HData:
		return "c2h_data"
	case PDUTypeR2T:
		return "r2t"
	default:
		return "unknown"
	}
}

// expectedHlen is the header length a PDU type must carry, 0 for types never accepted.
func expectedHlen(t uint8) int {
	switch t {
	case PDUTypeICReq:
		return ICReqSize
	case PDUTypeICResp:
		return ICRespSize
	case PDUTypeCmd:
		return CmdSize
	case PDUTypeRsp:
		return RspSize
	case PDUTypeC2HData, PDUTypeH2CData:
		return DataSize
	case PDUTypeH2CTerm, PDUTypeC2HTerm:
		return TermSize
	default:
		return 0
	}
}

// ReadHeader reads and validates one common header.
func ReadHeader(r io.Reader) (*Header, error) {
	hdr := &Header{}
	if err := struc.Unpack(r, hdr); err != nil {
		return nil, err
	}
	hlen := expectedHlen(hdr.Type)
	if hlen == 0 {
		return nil, &PDUError{Type: hdr.Type, Reason: "unexpected pdu type"}
	}
	if int(hdr.Hlen) != hlen {
		return nil, &PDUError{Type: hdr.Type, Reason: fmt.Sprintf("bad hlen %d, expected %d", hdr.Hlen, hlen)}
	}
	if hdr.Plen < uint32(hdr.Hlen) {
		return nil, &PDUError{Type: hdr.Type, Reason: fmt.Sprintf("plen %d shorter than hlen %d", hdr.Plen, hdr.Hlen)}
	}
	return hdr, nil
}

// WriteHeader writes a common header for a PDU of type t carrying dataLen bytes after its header.
func WriteHeader(w io.Writer, t uint8, flags uint8, dataLen int) error {
	hlen := expectedHlen(t)
	hdr := &Header{
		Type:  t,
		Flags: flags,
		Hlen:  uint8(hlen),
		Plen:  uint32(hlen + dataLen),
	}
	if dataLen > 0 {
		hdr.Pdo = uint8(hlen)
	}
	return struc.Pack(w, hdr)
}
