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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ccEnable = 0x460001

type staticDiscoveryLog struct {
	entries []DiscoveryEntry
	genctr  uint64
}

func (l *staticDiscoveryLog) Snapshot() (uint64, []DiscoveryEntry) { return l.genctr, l.entries }

func connectCapsule(cid uint16, qsize uint16) *Capsule {
	return &Capsule{Opcode: OpcodeFabrics, CommandID: cid, NSID: uint32(FabricsTypeConnect), Cdw11: uint32(qsize), Cdw12: 30000}
}

func propertySetCapsule(cid uint16, offset uint32, value uint64) *Capsule {
	return &Capsule{Opcode: OpcodeFabrics, CommandID: cid, NSID: uint32(FabricsTypePropertySet),
		Cdw11: offset, Cdw12: uint32(value), Cdw13: uint32(value >> 32)}
}

func propertyGetCapsule(cid uint16, offset uint32, wide bool) *Capsule {
	c := &Capsule{Opcode: OpcodeFabrics, CommandID: cid, NSID: uint32(FabricsTypePropertyGet), Cdw11: offset}
	if wide {
		c.Cdw10 = 1
	}
	return c
}

func identifyCapsule(cid uint16, cns uint8) *Capsule {
	return &Capsule{Opcode: OpcodeIdentify, CommandID: cid, Cdw10: uint32(cns)}
}

func getLogPageCapsule(cid uint16, lid uint8, length uint32, offset uint64) *Capsule {
	numd := length/4 - 1
	return &Capsule{
		Opcode:    OpcodeGetLogPage,
		CommandID: cid,
		Cdw10:     uint32(lid) | (numd&0xffff)<<16,
		Cdw11:     numd >> 16,
		Cdw12:     uint32(offset),
		Cdw13:     uint32(offset >> 32),
	}
}

func adminCapsule(cid uint16, opcode uint8) *Capsule {
	return &Capsule{Opcode: opcode, CommandID: cid}
}

func newTestDispatcher(t *testing.T, log DiscoveryLog) *Dispatcher {
	t.Helper()
	return NewDispatcher(DefaultProfile(), log, nil)
}

// enabledDispatcher returns a dispatcher after connect(qsize) and CC.EN, with the head at 2.
func enabledDispatcher(t *testing.T, qsize uint16, log DiscoveryLog) *Dispatcher {
	t.Helper()
	d := newTestDispatcher(t, log)
	require.Equal(t, StatusSuccess, d.Dispatch(connectCapsule(1, qsize)).Completion.StatusCode())
	require.Equal(t, StatusSuccess, d.Dispatch(propertySetCapsule(2, RegCC, ccEnable)).Completion.StatusCode())
	return d
}

func TestDiscoveryScenario(t *testing.T) {
	d := newTestDispatcher(t, nil)

	resp := d.Dispatch(connectCapsule(0x10, 4))
	require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
	require.Equal(t, uint16(1), resp.Completion.SqHead)
	require.Equal(t, uint16(0x10), resp.Completion.CommandID)
	require.Equal(t, uint32(1), resp.Completion.Result32(), "connect returns the controller id")
	require.Nil(t, resp.Data)
	require.Equal(t, Established, d.State())

	resp = d.Dispatch(propertySetCapsule(0x11, RegCC, ccEnable))
	require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
	require.Equal(t, uint16(2), resp.Completion.SqHead)
	require.True(t, d.Properties().IsEnabled())

	resp = d.Dispatch(identifyCapsule(0x12, CNSController))
	require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
	require.Equal(t, uint16(3), resp.Completion.SqHead)
	require.Len(t, resp.Data, IdentifyDataSize)
	id, err := DecodeIdentifyController(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, DiscoverySubsysName, id.SubsystemNQN())
	assert.Equal(t, "0.0.1", id.FirmwareRevision())
	assert.Equal(t, uint8(1), id.Mdts)
	assert.Equal(t, uint16(1), id.CntlID)
	assert.Equal(t, uint32(0x10400), id.Ver)

	resp = d.Dispatch(adminCapsule(0x13, 0x7e))
	require.Equal(t, StatusInvalidOpcode, resp.Completion.StatusCode())
	require.Equal(t, uint16(0), resp.Completion.SqHead)
	require.Nil(t, resp.Data)
}

func TestSqHeadAdvancesRegardlessOfStatus(t *testing.T) {
	const qsize = 5
	d := newTestDispatcher(t, nil)
	capsules := []*Capsule{
		connectCapsule(0, qsize),
		identifyCapsule(1, CNSController),                 // command sequence error, disabled
		propertySetCapsule(2, RegCC, ccEnable),            // success
		identifyCapsule(3, CNSNamespace),                  // invalid field
		adminCapsule(4, 0x7e),                             // invalid opcode
		propertyGetCapsule(5, 0x99, false),                // invalid field
		{Opcode: OpcodeFabrics, CommandID: 6, NSID: 0x33}, // unknown fabrics type
		getLogPageCapsule(7, LogDiscovery, 1024, 0),       // success
		adminCapsule(8, OpcodeKeepAlive),                  // success
		connectCapsule(9, qsize),                          // second connect
		getLogPageCapsule(10, LogError, 64, 0),            // invalid field
	}
	for i, c := range capsules {
		resp := d.Dispatch(c)
		require.Equal(t, uint16((i+1)%qsize), resp.Completion.SqHead, "capsule %d: %s", i, resp.Completion)
		require.Equal(t, c.CommandID, resp.Completion.CommandID)
		require.Equal(t, uint16(0), resp.Completion.SqID)
	}
}

func TestCommandsBeforeConnect(t *testing.T) {
	testCases := []struct {
		name    string
		capsule *Capsule
	}{
		{name: "identify", capsule: identifyCapsule(0xaa, CNSController)},
		{name: "property set", capsule: propertySetCapsule(0xab, RegCC, ccEnable)},
		{name: "property get", capsule: propertyGetCapsule(0xac, RegCAP, true)},
		{name: "keep alive", capsule: adminCapsule(0xad, OpcodeKeepAlive)},
		{name: "unknown opcode", capsule: adminCapsule(0xae, 0x7e)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t, nil)
			resp := d.Dispatch(tc.capsule)
			require.Equal(t, StatusCommandSequence, resp.Completion.StatusCode())
			require.False(t, resp.Completion.StatusCode().DoNotRetry())
			require.Equal(t, uint16(0), resp.Completion.SqHead)
			require.Equal(t, tc.capsule.CommandID, resp.Completion.CommandID)
			require.Nil(t, resp.Data)
			require.Equal(t, AwaitingConnect, d.State())
			require.False(t, d.Properties().IsEnabled())
		})
	}
}

func TestConnectValidation(t *testing.T) {
	testCases := []struct {
		name    string
		capsule *Capsule
		status  Status
	}{
		{name: "queue size 0", capsule: connectCapsule(1, 0), status: StatusConnectInvalidParam},
		{name: "record format", capsule: &Capsule{Opcode: OpcodeFabrics, CommandID: 1, NSID: uint32(FabricsTypeConnect), Cdw10: 1, Cdw11: 32}, status: StatusConnectFormat},
		{name: "io queue", capsule: &Capsule{Opcode: OpcodeFabrics, CommandID: 1, NSID: uint32(FabricsTypeConnect), Cdw10: 1 << 16, Cdw11: 32}, status: StatusConnectInvalidParam},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := newTestDispatcher(t, nil)
			resp := d.Dispatch(tc.capsule)
			require.Equal(t, tc.status, resp.Completion.StatusCode())
			require.Equal(t, uint16(0), resp.Completion.SqHead)
			require.Equal(t, AwaitingConnect, d.State())

			// the host may retry on the same connection
			resp = d.Dispatch(connectCapsule(2, 4))
			require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
			require.Equal(t, uint16(1), resp.Completion.SqHead)
		})
	}
}

func TestSecondConnect(t *testing.T) {
	d := enabledDispatcher(t, 32, nil)
	resp := d.Dispatch(connectCapsule(3, 8))
	require.Equal(t, StatusCommandSequence, resp.Completion.StatusCode())
	require.Equal(t, uint16(3), resp.Completion.SqHead)
	require.Equal(t, Established, d.State())
}

func TestDisabledControllerHasNoSideEffects(t *testing.T) {
	d := newTestDispatcher(t, &staticDiscoveryLog{genctr: 1})
	require.Equal(t, StatusSuccess, d.Dispatch(connectCapsule(1, 32)).Completion.StatusCode())

	before := *d.Properties()
	for i, c := range []*Capsule{
		identifyCapsule(2, CNSController),
		getLogPageCapsule(3, LogDiscovery, 4096, 0),
		adminCapsule(4, OpcodeKeepAlive),
		adminCapsule(5, 0x7e),
	} {
		resp := d.Dispatch(c)
		require.Equal(t, StatusCommandSequence, resp.Completion.StatusCode())
		require.Equal(t, uint16(i+2), resp.Completion.SqHead)
		require.Nil(t, resp.Data)
	}
	require.Equal(t, before, *d.Properties())
}

func TestIdentifyCNS(t *testing.T) {
	for _, cns := range []uint8{CNSNamespace, 0x02, 0x03, 0x10, 0xff} {
		d := enabledDispatcher(t, 32, nil)
		resp := d.Dispatch(identifyCapsule(9, cns))
		require.Equal(t, StatusInvalidField, resp.Completion.StatusCode(), "cns %#x", cns)
		require.Nil(t, resp.Data, "cns %#x", cns)
	}
}

func TestIdentifyCustomProfile(t *testing.T) {
	profile, err := NewProfile(WithFirmwareRevision("1.2.3"), WithSubsystemNQN("nqn.2022-01.io.example:discovery"), WithControllerID(7), WithMdts(0))
	require.NoError(t, err)
	d := NewDispatcher(profile, nil, nil)
	resp := d.Dispatch(connectCapsule(1, 32))
	require.Equal(t, uint32(7), resp.Completion.Result32())
	d.Dispatch(propertySetCapsule(2, RegCC, ccEnable))

	resp = d.Dispatch(identifyCapsule(3, CNSController))
	require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
	id, err := DecodeIdentifyController(resp.Data)
	require.NoError(t, err)
	require.Equal(t, "1.2.3", id.FirmwareRevision())
	require.Equal(t, "nqn.2022-01.io.example:discovery", id.SubsystemNQN())
	require.Equal(t, uint16(7), id.CntlID)
	require.Equal(t, uint8(0), id.Mdts)
}

func TestInvalidProfile(t *testing.T) {
	_, err := NewProfile(WithFirmwareRevision("123456789"))
	require.Error(t, err)
	_, err = NewProfile(WithSubsystemNQN(""))
	require.Error(t, err)
	_, err = NewProfile(WithMdts(9))
	require.Error(t, err)
}

func TestUnknownFabricsType(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		d := newTestDispatcher(t, nil)
		d.Dispatch(connectCapsule(1, 32))
		if enabled {
			d.Dispatch(propertySetCapsule(2, RegCC, ccEnable))
		}
		resp := d.Dispatch(&Capsule{Opcode: OpcodeFabrics, CommandID: 3, NSID: uint32(FabricsTypeAuthSend)})
		require.Equal(t, StatusInvalidField, resp.Completion.StatusCode())
		require.Equal(t, uint16(3), resp.Completion.CommandID)
	}
}

func TestPropertyGetThroughFabrics(t *testing.T) {
	d := newTestDispatcher(t, nil)
	d.Dispatch(connectCapsule(1, 32))

	resp := d.Dispatch(propertyGetCapsule(2, RegCAP, true))
	require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
	require.Equal(t, DefaultProfile().Capabilities(), resp.Completion.Result)

	resp = d.Dispatch(propertyGetCapsule(3, RegCSTS, false))
	require.Zero(t, resp.Completion.Result)

	d.Dispatch(propertySetCapsule(4, RegCC, ccEnable))
	resp = d.Dispatch(propertyGetCapsule(5, RegCSTS, false))
	require.Equal(t, uint64(cstsReady), resp.Completion.Result)

	resp = d.Dispatch(propertyGetCapsule(6, RegCC, true))
	require.Equal(t, StatusInvalidField, resp.Completion.StatusCode())
}

func TestKeepAlive(t *testing.T) {
	d := enabledDispatcher(t, 32, nil)
	resp := d.Dispatch(adminCapsule(3, OpcodeKeepAlive))
	require.Equal(t, StatusSuccess, resp.Completion.StatusCode())
	require.Nil(t, resp.Data)
	require.Equal(t, 30*1000, int(d.KeepAliveTimeout().Milliseconds()))
}

func TestParseCommandVariants(t *testing.T) {
	testCases := []struct {
		name     string
		capsule  *Capsule
		expected Command
	}{
		{name: "connect", capsule: connectCapsule(1, 4), expected: &ConnectCommand{}},
		{name: "property get", capsule: propertyGetCapsule(1, RegVS, false), expected: &PropertyGetCommand{}},
		{name: "property set", capsule: propertySetCapsule(1, RegCC, 1), expected: &PropertySetCommand{}},
		{name: "unknown fabrics", capsule: &Capsule{Opcode: OpcodeFabrics, NSID: 0x7}, expected: &UnknownFabricsCommand{}},
		{name: "identify", capsule: identifyCapsule(1, CNSController), expected: &IdentifyCommand{}},
		{name: "get log page", capsule: getLogPageCapsule(1, LogDiscovery, 16, 0), expected: &GetLogPageCommand{}},
		{name: "keep alive", capsule: adminCapsule(1, OpcodeKeepAlive), expected: &KeepAliveCommand{}},
		{name: "unsupported", capsule: adminCapsule(1, OpcodeSetFeatures), expected: &UnsupportedCommand{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := ParseCommand(tc.capsule)
			require.IsType(t, tc.expected, cmd)
			require.Equal(t, tc.capsule.Opcode == OpcodeFabrics, cmd.Fabrics())
			require.Equal(t, tc.capsule.CommandID, cmd.CommandID())
			require.NotEmpty(t, cmd.String())
		})
	}
}

func TestParseGetLogPageFields(t *testing.T) {
	cmd := ParseCommand(&Capsule{
		Opcode: OpcodeGetLogPage,
		Cdw10:  0xffff8070,
		Cdw11:  0x0001,
		Cdw12:  0x100,
		Cdw13:  0x1,
	}).(*GetLogPageCommand)
	require.Equal(t, LogDiscovery, cmd.LogID)
	require.True(t, cmd.RetainAsync)
	require.Equal(t, uint64(0x1ffff+1)*4, cmd.Length)
	require.Equal(t, uint64(1)<<32|0x100, cmd.Offset)

	widest := ParseCommand(&Capsule{Opcode: OpcodeGetLogPage, Cdw10: 0xffff0070, Cdw11: 0xffff}).(*GetLogPageCommand)
	require.Equal(t, uint64(1)<<34, widest.Length)
}
