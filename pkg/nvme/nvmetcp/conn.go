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

package nvmetcp

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lunixbochs/struc"
	"github.com/sirupsen/logrus"
)

// Conn is the controller side of an NVMe/TCP admin queue connection. It implements nvme.Transport.
type Conn struct {
	tcpConn   net.Conn
	tcpReader *bufio.Reader
	tcpWriter *bufio.Writer
	log       *logrus.Entry
}

func NewConn(tcpConn net.Conn, log *logrus.Entry) *Conn {
	if log == nil {
		log = logrus.WithFields(logrus.Fields{"local_addr": tcpConn.LocalAddr(), "remote_addr": tcpConn.RemoteAddr()})
	}
	return &Conn{
		tcpConn:   tcpConn,
		tcpReader: bufio.NewReader(tcpConn),
		tcpWriter: bufio.NewWriter(tcpConn),
		log:       log,
	}
}

// Accept runs the connection initialization exchange: ICReq in, ICResp out.
func (c *Conn) Accept() error {
	hdr, err := ReadHeader(c.tcpReader)
	if err != nil {
		return fmt.Errorf("read icreq header: %w", err)
	}
	if hdr.Type != PDUTypeICReq {
		c.terminate(FESPDUSequenceError, 0)
		return &PDUError{Type: hdr.Type, Reason: "expected icreq"}
	}
	if hdr.Plen != ICReqSize {
		c.terminate(FESInvalidHeaderField, 4)
		return &PDUError{Type: hdr.Type, Reason: fmt.Sprintf("bad plen %d", hdr.Plen)}
	}

	icReq := &ICReq{}
	if err := struc.Unpack(c.tcpReader, icReq); err != nil {
		return fmt.Errorf("read icreq: %w", err)
	}
	if icReq.Pfv != PFV10 {
		c.terminate(FESInvalidHeaderField, 8)
		return &PDUError{Type: hdr.Type, Reason: fmt.Sprintf("bad pfv %d", icReq.Pfv)}
	}
	if icReq.Hpda != 0 {
		c.terminate(FESInvalidHeaderField, 10)
		return &PDUError{Type: hdr.Type, Reason: fmt.Sprintf("unsupported hpda %d", icReq.Hpda)}
	}
	if icReq.Digest != 0 {
		c.log.Warnf("host requested digest %#x, digests are disabled", icReq.Digest)
	}

	if err := WriteHeader(c.tcpWriter, PDUTypeICResp, 0, 0); err != nil {
		return err
	}
	if err := struc.Pack(c.tcpWriter, &ICResp{Pfv: PFV10, Maxdata: defaultMaxH2C}); err != nil {
		return err
	}
	return c.tcpWriter.Flush()
}

// Receive returns the next command capsule. In capsule data is discarded.
func (c *Conn) Receive() ([]byte, error) {
	hdr, err := ReadHeader(c.tcpReader)
	if err != nil {
		return nil, err
	}
	switch hdr.Type {
	case PDUTypeCmd:
	case PDUTypeH2CTerm:
		term := &TermReq{}
		if err := struc.Unpack(c.tcpReader, term); err != nil {
			return nil, err
		}
		c.log.Warnf("host terminated the connection. fes: %#x, fei: %#x", term.Fes, term.Fei)
		return nil, io.EOF
	default:
		c.terminate(FESPDUSequenceError, 0)
		return nil, &PDUError{Type: hdr.Type, Reason: "unexpected pdu on admin queue"}
	}

	capsule := make([]byte, nvme.CapsuleSize)
	if _, err := io.ReadFull(c.tcpReader, capsule); err != nil {
		return nil, err
	}
	if inline := int(hdr.Plen) - int(hdr.Hlen); inline > 0 {
		if _, err := c.tcpReader.Discard(inline); err != nil {
			return nil, err
		}
	}
	return capsule, nil
}

// SendData frames a data capsule as a single C2HData PDU.
func (c *Conn) SendData(b []byte) error {
	if len(b) < nvme.DataHeaderSize {
		return fmt.Errorf("%w: data capsule of %d bytes", nvme.ErrShortCapsule, len(b))
	}
	if err := WriteHeader(c.tcpWriter, PDUTypeC2HData, FlagDataLast, len(b)-nvme.DataHeaderSize); err != nil {
		return err
	}
	_, err := c.tcpWriter.Write(b)
	return err
}

// SendStatus frames a completion as a response PDU and flushes the connection.
func (c *Conn) SendStatus(b []byte) error {
	if len(b) != nvme.CompletionSize {
		return fmt.Errorf("%w: completion of %d bytes", nvme.ErrShortCapsule, len(b))
	}
	if err := WriteHeader(c.tcpWriter, PDUTypeRsp, 0, 0); err != nil {
		return err
	}
	if _, err := c.tcpWriter.Write(b); err != nil {
		return err
	}
	return c.tcpWriter.Flush()
}

// terminate best effort notifies the host of a fatal framing error.
func (c *Conn) terminate(fes uint16, fei uint32) {
	if err := WriteHeader(c.tcpWriter, PDUTypeC2HTerm, 0, 0); err != nil {
		return
	}
	if err := struc.Pack(c.tcpWriter, &TermReq{Fes: fes, Fei: fei}); err != nil {
		return
	}
	if err := c.tcpWriter.Flush(); err != nil {
		c.log.WithError(err).Debug("failed to send termination request")
	}
}

func (c *Conn) Close() error {
	return c.tcpConn.Close()
}
