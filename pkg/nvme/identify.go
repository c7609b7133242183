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
	"strings"

	"github.com/lunixbochs/struc"
)

const (
	// log page attributes: extended data for get log page
	lpaExtendedData = 1 << 2
	sglsSupported   = 1 << 0
	defaultSqes     = 0x66
	defaultCqes     = 0x44
)

// IdentifyController is the identify controller data structure (CNS 01h).
// https://nvmexpress.org/wp-content/uploads/NVM-Express-1_4-2019.06.10-Ratified.pdf
// Figure 247: Identify – Identify Controller Data Structure
type IdentifyController struct {
	VID      uint16      `struc:"uint16,little"`
	SSVID    uint16      `struc:"uint16,little"`
	Sn       [20]uint8   `struc:"[20]uint8"`
	Mn       [40]uint8   `struc:"[40]uint8"`
	Fr       [8]uint8    `struc:"[8]uint8"`
	Rab      uint8       `struc:"uint8"`
	Ieee     [3]uint8    `struc:"[3]uint8"`
	Cmic     uint8       `struc:"uint8"`
	Mdts     uint8       `struc:"uint8"`
	CntlID   uint16      `struc:"uint16,little"`
	Ver      uint32      `struc:"uint32,little"`
	Rtd3r    uint32      `struc:"uint32,little"`
	Rtd3e    uint32      `struc:"uint32,little"`
	Oaes     uint32      `struc:"uint32,little"`
	CtrAtt   uint32      `struc:"uint32,little"`
	Rsvd100  [156]uint8  `struc:"[156]uint8"`
	Oacs     uint16      `struc:"uint16,little"`
	ACL      uint8       `struc:"uint8"`
	Aerl     uint8       `struc:"uint8"`
	Frmw     uint8       `struc:"uint8"`
	Lpa      uint8       `struc:"uint8"`
	Elpe     uint8       `struc:"uint8"`
	Npss     uint8       `struc:"uint8"`
	Rsvd264  [248]uint8  `struc:"[248]uint8"`
	Sqes     uint8       `struc:"uint8"`
	Cqes     uint8       `struc:"uint8"`
	Maxcmd   uint16      `struc:"uint16,little"`
	Rsvd516  [20]uint8   `struc:"[20]uint8"`
	Sgls     uint32      `struc:"uint32,little"`
	Mnan     uint32      `struc:"uint32,little"`
	Rsvd544  [224]uint8  `struc:"[224]uint8"`
	SubNqn   [256]uint8  `struc:"[256]uint8"`
	Rsvd1024 [768]uint8  `struc:"[768]uint8"`
	Ioccsz   uint32      `struc:"uint32,little"`
	Iorcsz   uint32      `struc:"uint32,little"`
	IcdOff   uint16      `struc:"uint16,little"`
	CtrlAttr uint8       `struc:"uint8"`
	Msdbd    uint8       `struc:"uint8"`
	Rsvd1804 [244]uint8  `struc:"[244]uint8"`
	Psd      [1024]uint8 `struc:"[1024]uint8"`
	VS       [1024]uint8 `struc:"[1024]uint8"`
}

func (id *IdentifyController) FirmwareRevision() string {
	return trimNull(id.Fr[:])
}

func (id *IdentifyController) SubsystemNQN() string {
	return trimNull(id.SubNqn[:])
}

func newIdentifyController(profile *Profile) *IdentifyController {
	id := &IdentifyController{
		Mdts:   profile.Mdts(),
		CntlID: profile.ControllerID(),
		Ver:    profile.Version(),
		Lpa:    lpaExtendedData,
		Sqes:   defaultSqes,
		Cqes:   defaultCqes,
		Maxcmd: profile.MaxCmd(),
		Sgls:   sglsSupported,
	}
	copy(id.Fr[:], profile.FirmwareRevision())
	copy(id.SubNqn[:], profile.SubsystemNQN())
	return id
}

func EncodeIdentifyController(id *IdentifyController) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(IdentifyDataSize)
	if err := struc.Pack(&buf, id); err != nil {
		return nil, fmt.Errorf("encode identify controller: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeIdentifyController(b []byte) (*IdentifyController, error) {
	if len(b) < IdentifyDataSize {
		return nil, fmt.Errorf("%w: identify data needs %d bytes, got %d", ErrShortCapsule, IdentifyDataSize, len(b))
	}
	id := &IdentifyController{}
	if err := struc.Unpack(bytes.NewReader(b), id); err != nil {
		return nil, fmt.Errorf("decode identify controller: %w", err)
	}
	return id, nil
}

func (d *Dispatcher) identify(cmd *IdentifyCommand) commandResult {
	if cmd.CNS != CNSController {
		d.log.Warnf("unsupported identify cns %#02x", cmd.CNS)
		return commandResult{status: StatusInvalidField}
	}
	data, err := EncodeIdentifyController(d.identity)
	if err != nil {
		d.log.WithError(err).Error("failed to build identify controller data")
		return commandResult{status: StatusInternal}
	}
	return commandResult{status: StatusSuccess, data: data}
}

func trimNull(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
