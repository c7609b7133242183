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
	"reflect"

	"github.com/lunixbochs/struc"
)

// Completion is a completion queue entry.
type Completion struct {
	Result    uint64 `struc:"uint64,little"`
	SqHead    uint16 `struc:"uint16,little"`
	SqID      uint16 `struc:"uint16,little"`
	CommandID uint16 `struc:"uint16,little"`
	// Status holds the wire value: phase in bit 0, status above it.
	Status uint16 `struc:"uint16,little"`
}

func NewCompletion(commandID uint16, sqID uint16, status Status) *Completion {
	return &Completion{
		CommandID: commandID,
		SqID:      sqID,
		Status:    status.wire(),
	}
}

func (cqe *Completion) StatusCode() Status {
	return statusFromWire(cqe.Status)
}

func (cqe *Completion) SetResult32(result uint32) {
	cqe.Result = uint64(result)
}

func (cqe *Completion) SetResult64(result uint64) {
	cqe.Result = result
}

func (cqe *Completion) Result32() uint32 {
	return uint32(cqe.Result)
}

func (cqe *Completion) String() string {
	return fmt.Sprintf("%s, id: %#04x. sqhd: %d, sqid: %d, status: %s(%#04x), result: %#x",
		reflect.TypeOf(cqe).String(), cqe.CommandID, cqe.SqHead, cqe.SqID,
		cqe.StatusCode(), uint16(cqe.StatusCode()), cqe.Result)
}

// EncodeStatus serializes a completion into its CompletionSize wire form.
func EncodeStatus(cqe *Completion) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, cqe); err != nil {
		return nil, fmt.Errorf("encode completion: %w", err)
	}
	return buf.Bytes(), nil
}

func DecodeStatus(b []byte) (*Completion, error) {
	if len(b) < CompletionSize {
		return nil, fmt.Errorf("%w: completion needs %d bytes, got %d", ErrShortCapsule, CompletionSize, len(b))
	}
	cqe := &Completion{}
	if err := struc.Unpack(bytes.NewReader(b[:CompletionSize]), cqe); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	return cqe, nil
}
