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

// Package nvmehost is a minimal NVMe/TCP discovery host used by the discover command and
// end to end tests.
package nvmehost

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme/nvmetcp"
	"github.com/lunixbochs/struc"
	"github.com/sirupsen/logrus"
)

const (
	// important not to put too small
	waitForReplyTimeout = 5 * time.Second
	dialerTmo           = time.Second * 1
	dialAttempts        = 5
	dialDelay           = 10 * time.Millisecond
	connectDataSize     = 1024
	adminQueueSize      = 32
	readyPollInterval   = 10 * time.Millisecond

	ccEnable       = 0x460001
	ccShutdown     = 0x464001
	cstsReady      = 0x1
	sglInlineData  = 0x01
	sglTransportDa = 0x5a
)

// ConnectData is the data of a fabrics connect command.
type ConnectData struct {
	HostID    [16]uint8  `struc:"[16]uint8"`
	CntlID    uint16     `struc:"uint16,little"`
	Rsv4      [238]uint8 `struc:"[238]uint8"`
	SubsysNqn [256]uint8 `struc:"[256]uint8"`
	HostNqn   [256]uint8 `struc:"[256]uint8"`
	Rsv5      [256]uint8 `struc:"[256]uint8"`
}

// CommandError is a command the controller completed with a non success status.
type CommandError struct {
	Opcode uint8
	Status nvme.Status
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s(%#02x) failed with status %s(%#04x)", nvme.OpcodeName(e.Opcode), e.Opcode, e.Status, uint16(e.Status))
}

// Client is a single admin queue connection to a discovery controller. Commands are
// issued one at a time. It is not safe for concurrent use.
type Client struct {
	tcpConn   net.Conn
	tcpReader *bufio.Reader
	tcpWriter *bufio.Writer
	log       *logrus.Entry
	commandID uint16
	timeout   time.Duration
}

type Option func(*Client)

// WithTimeout bounds every command round trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to addr and runs the NVMe/TCP initialization exchange.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	log := logrus.WithFields(logrus.Fields{"remote_addr": addr})
	var conn net.Conn
	err := retry.Do(func() error {
		dialer := net.Dialer{Timeout: dialerTmo}
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		return err
	},
		retry.DelayType(retry.BackOffDelay),
		retry.Attempts(dialAttempts),
		retry.Delay(dialDelay),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Debugf("dial attempt %d failed", n+1)
		}),
	)
	if err != nil {
		return nil, err
	}

	client := &Client{
		tcpConn:   conn,
		tcpReader: bufio.NewReader(conn),
		tcpWriter: bufio.NewWriter(conn),
		log:       log.WithFields(logrus.Fields{"local_addr": conn.LocalAddr()}),
		commandID: 0x01,
		timeout:   waitForReplyTimeout,
	}
	for _, opt := range opts {
		opt(client)
	}
	if err := client.initConnection(); err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// https://github.com/torvalds/linux/blob/1ee08de1e234d95b5b4f866878b72fceb5372904/drivers/nvme/host/tcp.c
func (c *Client) initConnection() error {
	c.tcpConn.SetDeadline(time.Now().Add(c.timeout))
	defer c.tcpConn.SetDeadline(time.Time{})

	if err := nvmetcp.WriteHeader(c.tcpWriter, nvmetcp.PDUTypeICReq, 0, 0); err != nil {
		return err
	}
	// no alignment constraint, no digests
	if err := struc.Pack(c.tcpWriter, &nvmetcp.ICReq{Pfv: nvmetcp.PFV10}); err != nil {
		return err
	}
	if err := c.tcpWriter.Flush(); err != nil {
		return err
	}

	hdr, err := nvmetcp.ReadHeader(c.tcpReader)
	if err != nil {
		return err
	}
	if hdr.Type == nvmetcp.PDUTypeC2HTerm {
		return c.readTermination()
	}
	if hdr.Type != nvmetcp.PDUTypeICResp {
		return &nvmetcp.PDUError{Type: hdr.Type, Reason: "expected icresp"}
	}
	icresp := &nvmetcp.ICResp{}
	if err := struc.Unpack(c.tcpReader, icresp); err != nil {
		return err
	}
	if icresp.Pfv != nvmetcp.PFV10 {
		return fmt.Errorf("bad pfv returned %d", icresp.Pfv)
	}
	if icresp.Cpda != 0 {
		return fmt.Errorf("unsupported cpda returned %d", icresp.Cpda)
	}
	return nil
}

func (c *Client) readTermination() error {
	term := &nvmetcp.TermReq{}
	if err := struc.Unpack(c.tcpReader, term); err != nil {
		return err
	}
	return &nvmetcp.PDUError{Type: nvmetcp.PDUTypeC2HTerm, Reason: fmt.Sprintf("controller terminated the connection. fes: %#x", term.Fes)}
}

func (c *Client) nextCmdID() uint16 {
	cmdID := c.commandID
	c.commandID++
	return cmdID
}

func setSgInline(dptr *nvme.DataPtr, length uint32) {
	dptr.Part1 = 0
	binary.LittleEndian.PutUint32(dptr.Part2[:4], length)
	dptr.Part2[7] = sglInlineData
}

func setSgHostData(dptr *nvme.DataPtr, length uint32) {
	dptr.Part1 = 0
	binary.LittleEndian.PutUint32(dptr.Part2[:4], length)
	dptr.Part2[7] = sglTransportDa
}

// execute sends one command with optional in capsule data and waits for its completion.
// The returned data is the C2H data of the command, if any.
func (c *Client) execute(cmd *nvme.Capsule, inline []byte) (*nvme.Completion, []byte, error) {
	cmd.CommandID = c.nextCmdID()
	c.tcpConn.SetDeadline(time.Now().Add(c.timeout))
	defer c.tcpConn.SetDeadline(time.Time{})

	b, err := nvme.EncodeCapsule(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := nvmetcp.WriteHeader(c.tcpWriter, nvmetcp.PDUTypeCmd, 0, len(inline)); err != nil {
		return nil, nil, err
	}
	c.tcpWriter.Write(b)
	c.tcpWriter.Write(inline)
	if err := c.tcpWriter.Flush(); err != nil {
		return nil, nil, err
	}

	var data []byte
	for {
		hdr, err := nvmetcp.ReadHeader(c.tcpReader)
		if err != nil {
			return nil, nil, err
		}
		switch hdr.Type {
		case nvmetcp.PDUTypeC2HData:
			pdu := make([]byte, hdr.Plen-nvmetcp.CommonHeaderSize)
			if _, err := io.ReadFull(c.tcpReader, pdu); err != nil {
				return nil, nil, err
			}
			dataHdr, payload, err := nvme.DecodeData(pdu)
			if err != nil {
				return nil, nil, err
			}
			if dataHdr.CommandID != cmd.CommandID {
				return nil, nil, fmt.Errorf("data for command %#04x while waiting for %#04x", dataHdr.CommandID, cmd.CommandID)
			}
			data = append(data, payload...)
		case nvmetcp.PDUTypeRsp:
			rsp := make([]byte, nvme.CompletionSize)
			if _, err := io.ReadFull(c.tcpReader, rsp); err != nil {
				return nil, nil, err
			}
			cqe, err := nvme.DecodeStatus(rsp)
			if err != nil {
				return nil, nil, err
			}
			if cqe.CommandID != cmd.CommandID {
				return nil, nil, fmt.Errorf("completion for command %#04x while waiting for %#04x", cqe.CommandID, cmd.CommandID)
			}
			c.log.Debugf("request completed: %s", cqe)
			if !cqe.StatusCode().IsSuccess() {
				return cqe, nil, &CommandError{Opcode: cmd.Opcode, Status: cqe.StatusCode()}
			}
			return cqe, data, nil
		case nvmetcp.PDUTypeC2HTerm:
			return nil, nil, c.readTermination()
		default:
			return nil, nil, &nvmetcp.PDUError{Type: hdr.Type, Reason: "unexpected pdu on admin queue"}
		}
	}
}

// Connect creates the admin queue and returns the controller id.
func (c *Client) Connect(hostNQN string, hostID uuid.UUID, kato time.Duration) (uint16, error) {
	connectData := &ConnectData{CntlID: 0xffff}
	copy(connectData.HostID[:], hostID[:])
	copy(connectData.SubsysNqn[:], nvme.DiscoverySubsysName)
	copy(connectData.HostNqn[:], hostNQN)
	var buf bytes.Buffer
	if err := struc.Pack(&buf, connectData); err != nil {
		return 0, err
	}

	cmd := &nvme.Capsule{
		Opcode: nvme.OpcodeFabrics,
		Flags:  0x40,
		NSID:   uint32(nvme.FabricsTypeConnect),
		Cdw11:  adminQueueSize,
		Cdw12:  uint32(kato.Milliseconds()),
	}
	setSgInline(&cmd.Dptr, connectDataSize)
	cqe, _, err := c.execute(cmd, buf.Bytes())
	if err != nil {
		return 0, err
	}
	return uint16(cqe.Result32()), nil
}

func (c *Client) PropertyGet(offset uint32, size int) (uint64, error) {
	cmd := &nvme.Capsule{
		Opcode: nvme.OpcodeFabrics,
		NSID:   uint32(nvme.FabricsTypePropertyGet),
		Cdw11:  offset,
	}
	if size == nvme.PropertySize8 {
		cmd.Cdw10 = 1
	}
	cqe, _, err := c.execute(cmd, nil)
	if err != nil {
		return 0, err
	}
	return cqe.Result, nil
}

func (c *Client) PropertySet(offset uint32, value uint32) error {
	cmd := &nvme.Capsule{
		Opcode: nvme.OpcodeFabrics,
		NSID:   uint32(nvme.FabricsTypePropertySet),
		Cdw11:  offset,
		Cdw12:  value,
	}
	_, _, err := c.execute(cmd, nil)
	return err
}

// EnableController sets CC.EN and waits for CSTS.RDY.
func (c *Client) EnableController(ctx context.Context) error {
	if err := c.PropertySet(nvme.RegCC, ccEnable); err != nil {
		return err
	}
	for {
		csts, err := c.PropertyGet(nvme.RegCSTS, nvme.PropertySize4)
		if err != nil {
			return err
		}
		if csts&cstsReady != 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

func (c *Client) Identify() (*nvme.IdentifyController, error) {
	cmd := &nvme.Capsule{
		Opcode: nvme.OpcodeIdentify,
		Cdw10:  uint32(nvme.CNSController),
	}
	setSgHostData(&cmd.Dptr, nvme.IdentifyDataSize)
	_, data, err := c.execute(cmd, nil)
	if err != nil {
		return nil, err
	}
	return nvme.DecodeIdentifyController(data)
}

func bytesToNumd(length uint32) uint32 {
	return length/4 - 1
}

// GetLogPage reads length bytes of log page lid starting at offset. length must be a
// non zero multiple of 4.
func (c *Client) GetLogPage(lid uint8, offset uint64, length uint32) ([]byte, error) {
	if length == 0 || length%4 != 0 {
		return nil, fmt.Errorf("log page length %d is not a multiple of 4", length)
	}
	numd := bytesToNumd(length)
	cmd := &nvme.Capsule{
		Opcode: nvme.OpcodeGetLogPage,
		NSID:   0xffffffff,
		Cdw10:  uint32(lid) | (numd&0xffff)<<16,
		Cdw11:  numd >> 16,
		Cdw12:  uint32(offset),
		Cdw13:  uint32(offset >> 32),
	}
	setSgHostData(&cmd.Dptr, length)
	_, data, err := c.execute(cmd, nil)
	return data, err
}

func (c *Client) KeepAlive() error {
	_, _, err := c.execute(&nvme.Capsule{Opcode: nvme.OpcodeKeepAlive}, nil)
	return err
}

// ErrGenerationChanged is returned when the discovery log changed while it was read.
var ErrGenerationChanged = errors.New("genCtr changed during GetLogPage. issue another discover request")

// Discover reads the complete discovery log. With pageSize 0 the records are read in a single
// command, otherwise in chunks of pageSize bytes.
func (c *Client) Discover(pageSize uint32) (uint64, []nvme.DiscoveryEntry, error) {
	head, err := c.GetLogPage(nvme.LogDiscovery, 0, nvme.DiscoveryHeaderSize)
	if err != nil {
		return 0, nil, err
	}
	hdr, err := nvme.DecodeDiscoveryLogHeader(head)
	if err != nil {
		return 0, nil, err
	}

	pageLen := uint64(nvme.DiscoveryHeaderSize) + hdr.NumRec*nvme.DiscoveryEntrySize
	page := head
	if pageSize == 0 {
		if page, err = c.GetLogPage(nvme.LogDiscovery, 0, uint32(pageLen)); err != nil {
			return 0, nil, err
		}
	} else {
		for offset := uint64(len(page)); offset < pageLen; offset += uint64(pageSize) {
			chunk, err := c.GetLogPage(nvme.LogDiscovery, offset, pageSize)
			if err != nil {
				return 0, nil, err
			}
			page = append(page, chunk...)
		}
	}

	final, entries, err := nvme.DecodeDiscoveryLogPage(page[:pageLen])
	if err != nil {
		return 0, nil, err
	}
	if uint64(len(entries)) != hdr.NumRec {
		c.log.Errorf("Expected %d entries, received %d entries", hdr.NumRec, len(entries))
		return 0, nil, fmt.Errorf("number of obtained entries differs from numRec")
	}

	head, err = c.GetLogPage(nvme.LogDiscovery, 0, nvme.DiscoveryHeaderSize)
	if err != nil {
		return 0, nil, err
	}
	again, err := nvme.DecodeDiscoveryLogHeader(head)
	if err != nil {
		return 0, nil, err
	}
	if again.GenCtr != hdr.GenCtr || final.GenCtr != hdr.GenCtr {
		return 0, nil, ErrGenerationChanged
	}
	return hdr.GenCtr, entries, nil
}

// Shutdown notifies the controller and closes the connection.
func (c *Client) Shutdown() error {
	if err := c.PropertySet(nvme.RegCC, ccShutdown); err != nil {
		c.log.WithError(err).Debug("failed to set ctrl back, (stop recieving commands)")
	}
	return c.Close()
}

func (c *Client) Close() error {
	return c.tcpConn.Close()
}
