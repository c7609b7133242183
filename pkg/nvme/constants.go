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

const (
	// DiscoverySubsysName name of discovery subsystem
	DiscoverySubsysName string = "nqn.2014-08.org.nvmexpress.discovery"
)

// Admin command set opcodes handled (or recognized) by the discovery controller.
// https://nvmexpress.org/wp-content/uploads/NVM-Express-1_4-2019.06.10-Ratified.pdf
// Figure 139: Opcodes for Admin Commands
const (
	OpcodeGetLogPage  uint8 = 0x02
	OpcodeIdentify    uint8 = 0x06
	OpcodeSetFeatures uint8 = 0x09
	OpcodeGetFeatures uint8 = 0x0a
	OpcodeAsyncEvent  uint8 = 0x0c
	OpcodeKeepAlive   uint8 = 0x18
	OpcodeFabrics     uint8 = 0x7f
)

// Fabrics command types, carried in byte 4 of a fabrics capsule.
const (
	FabricsTypePropertySet uint8 = 0x00
	FabricsTypeConnect     uint8 = 0x01
	FabricsTypePropertyGet uint8 = 0x04
	FabricsTypeAuthSend    uint8 = 0x05
	FabricsTypeAuthReceive uint8 = 0x06
	FabricsTypeDisconnect  uint8 = 0x08
)

// Controller property offsets.
const (
	RegCAP   uint32 = 0x00
	RegVS    uint32 = 0x08
	RegINTMS uint32 = 0x0c
	RegINTMC uint32 = 0x10
	RegCC    uint32 = 0x14
	RegCSTS  uint32 = 0x1c
	RegNSSR  uint32 = 0x20
)

const (
	ccEnableShift   = 0
	ccShutdownShift = 14

	cstsReady            uint32 = 1 << 0
	cstsShutdownComplete uint32 = 0x2 << 2
)

// Identify CNS values.
const (
	CNSNamespace  uint8 = 0x00
	CNSController uint8 = 0x01
)

// Log page identifiers.
const (
	LogError       uint8 = 0x01
	LogSmart       uint8 = 0x02
	LogFwSlot      uint8 = 0x03
	LogChangedNS   uint8 = 0x04
	LogCmdEffects  uint8 = 0x05
	LogANA         uint8 = 0x0c
	LogDiscovery   uint8 = 0x70
	LogReservation uint8 = 0x80
)

// Discovery log page entry fields.
const (
	TransportTypeRDMA uint8 = 1
	TransportTypeFC   uint8 = 2
	TransportTypeTCP  uint8 = 3

	AddressFamilyIPv4 uint8 = 1
	AddressFamilyIPv6 uint8 = 2

	TreqNotSpecified uint8 = 0

	cntlIDDynamic   uint16 = 0xffff
	adminQueueDepth uint16 = 32
)

// SubsystemType (SUBTYPE): Specifies the type of the NVM subsystem that is indicated in this entry.
type SubsystemType uint8

const (
	// NVME_NQN_DISC - The entry describes a referral to another Discovery Service composed of
	// Discovery controllers for additional records.
	NVME_NQN_DISC SubsystemType = 1
	// NVME_NQN_NVME - The entry describes an NVM subsystem that is not associated with
	// Discovery controllers and whose controllers may have attached
	// namespaces.
	NVME_NQN_NVME SubsystemType = 2
)

// Record sizes on the wire.
const (
	CapsuleSize          = 64
	CompletionSize       = 16
	DataHeaderSize       = 16
	IdentifyDataSize     = 4096
	DiscoveryHeaderSize  = 1024
	DiscoveryEntrySize   = 1024
	minMemoryPageSize    = 4096
	unlimitedTransferCap = 1 << 20
)

func OpcodeName(opcode uint8) string {
	var name string
	switch opcode {
	case OpcodeIdentify:
		name = "nvme_admin_identify"
	case OpcodeGetLogPage:
		name = "nvme_admin_get_log_page"
	case OpcodeKeepAlive:
		name = "nvme_admin_keep_alive"
	case OpcodeSetFeatures:
		name = "nvme_admin_set_features"
	case OpcodeGetFeatures:
		name = "nvme_admin_get_features"
	case OpcodeAsyncEvent:
		name = "nvme_admin_async_event"
	case OpcodeFabrics:
		name = "nvme_fabrics_command"
	default:
		name = "UNKNOWN"
	}
	return name
}

func fabricsTypeName(fctype uint8) string {
	switch fctype {
	case FabricsTypePropertySet:
		return "property_set"
	case FabricsTypeConnect:
		return "connect"
	case FabricsTypePropertyGet:
		return "property_get"
	case FabricsTypeAuthSend:
		return "auth_send"
	case FabricsTypeAuthReceive:
		return "auth_receive"
	case FabricsTypeDisconnect:
		return "disconnect"
	default:
		return "UNKNOWN"
	}
}

func registerName(reg uint32) string {
	switch reg {
	case RegCAP:
		return "ControllerCapabilities"
	case RegVS:
		return "ControllerVersion"
	case RegINTMS:
		return "Interrupt Mask Set"
	case RegINTMC:
		return "Interrupt Mask Clear"
	case RegCC:
		return "ControllerConfiguration"
	case RegCSTS:
		return "ControllerStatus"
	case RegNSSR:
		return "NVM Subsystem Reset"
	default:
		return "UNKNOWN register name"
	}
}

func getLogPageName(logID uint8) string {
	switch logID {
	case LogError:
		return "Error Information"
	case LogSmart:
		return "SMART / Health Information"
	case LogFwSlot:
		return "Firmware Slot Information"
	case LogChangedNS:
		return "Changed Namespace List"
	case LogCmdEffects:
		return "Commands Supported and Effects"
	case LogANA:
		return "Asymmetric Namespace Access"
	case LogReservation:
		return "Reservation Notification"
	case LogDiscovery:
		return "Discovery"
	default:
		return "UNKNOWN"
	}
}

// nvmeVS packs a version into the VS property layout.
func nvmeVS(major, minor, tertiary uint32) uint32 {
	return major<<16 | minor<<8 | tertiary
}

func (t SubsystemType) String() string {
	switch t {
	case NVME_NQN_DISC:
		return "discovery"
	case NVME_NQN_NVME:
		return "nvme"
	default:
		return "unknown"
	}
}

// TransportTypeName returns the nvme-cli name of a discovery log TRTYPE.
func TransportTypeName(trtype uint8) string {
	switch trtype {
	case TransportTypeRDMA:
		return "rdma"
	case TransportTypeFC:
		return "fc"
	case TransportTypeTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// AddressFamilyName returns the nvme-cli name of a discovery log ADRFAM.
func AddressFamilyName(adrfam uint8) string {
	switch adrfam {
	case AddressFamilyIPv4:
		return "ipv4"
	case AddressFamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}
