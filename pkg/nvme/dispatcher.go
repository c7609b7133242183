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
	"time"

	"github.com/sirupsen/logrus"
)

// QueueState is the admin queue connection state.
type QueueState int

const (
	// AwaitingConnect accepts nothing but a fabrics connect.
	AwaitingConnect QueueState = iota
	Established
)

func (s QueueState) String() string {
	switch s {
	case AwaitingConnect:
		return "awaiting_connect"
	case Established:
		return "established"
	default:
		return "unknown"
	}
}

const adminQueueID = 0

type commandResult struct {
	status Status
	result uint64
	// data is the data phase payload. nil when the command has none.
	data []byte
}

// Response is what the host receives for one command: an optional data phase followed
// by exactly one completion.
type Response struct {
	Data       []byte
	Completion *Completion
}

// Dispatcher is the per connection admin queue state machine. It is not safe for concurrent use.
type Dispatcher struct {
	profile   *Profile
	identity  *IdentifyController
	discovery DiscoveryLog
	props     *Properties
	state     QueueState
	queueSize uint16
	head      uint16
	kato      time.Duration
	log       *logrus.Entry
}

func NewDispatcher(profile *Profile, discovery DiscoveryLog, log *logrus.Entry) *Dispatcher {
	if discovery == nil {
		discovery = emptyDiscoveryLog{}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{
		profile:   profile,
		identity:  newIdentifyController(profile),
		discovery: discovery,
		props:     NewProperties(profile),
		state:     AwaitingConnect,
		log:       log,
	}
}

func (d *Dispatcher) State() QueueState {
	return d.state
}

func (d *Dispatcher) Properties() *Properties {
	return d.props
}

// KeepAliveTimeout is the timeout the host requested at connect time.
func (d *Dispatcher) KeepAliveTimeout() time.Duration {
	return d.kato
}

// Dispatch runs one capsule through the state machine.
func (d *Dispatcher) Dispatch(capsule *Capsule) *Response {
	cmd := ParseCommand(capsule)
	d.log.Debugf("handling %s", cmd)

	res := d.execute(cmd)

	completion := NewCompletion(cmd.CommandID(), adminQueueID, res.status)
	completion.SetResult64(res.result)
	completion.SqHead = d.nextHead()
	if !res.status.IsSuccess() {
		d.log.Debugf("%s failed with status %s", cmd, res.status)
	}

	resp := &Response{Completion: completion}
	if res.status.IsSuccess() {
		resp.Data = res.data
	}
	return resp
}

// nextHead consumes one submission queue slot. Before a successful connect no slot is
// consumed and the head is reported as 0.
func (d *Dispatcher) nextHead() uint16 {
	if d.state != Established {
		return 0
	}
	d.head = uint16((uint32(d.head) + 1) % uint32(d.queueSize))
	return d.head
}

func (d *Dispatcher) execute(cmd Command) commandResult {
	if d.state == AwaitingConnect {
		if connect, ok := cmd.(*ConnectCommand); ok {
			return d.connect(connect)
		}
		d.log.Warnf("%s before connect", cmd)
		return commandResult{status: StatusCommandSequence}
	}
	if !cmd.Fabrics() && !d.props.IsEnabled() {
		d.log.Warnf("%s while controller is disabled", cmd)
		return commandResult{status: StatusCommandSequence}
	}

	switch cmd := cmd.(type) {
	case *ConnectCommand:
		return d.connect(cmd)
	case *PropertyGetCommand:
		return d.propertyGet(cmd)
	case *PropertySetCommand:
		return d.propertySet(cmd)
	case *UnknownFabricsCommand:
		d.log.Warnf("unsupported fabrics command type %#02x", cmd.FabricsType)
		return commandResult{status: StatusInvalidField}
	case *IdentifyCommand:
		return d.identify(cmd)
	case *GetLogPageCommand:
		return d.getLogPage(cmd)
	case *KeepAliveCommand:
		return commandResult{status: StatusSuccess}
	case *UnsupportedCommand:
		d.log.Warnf("unsupported opcode %#02x", cmd.Opcode)
		return commandResult{status: StatusInvalidOpcode}
	default:
		d.log.Errorf("no handler for %T", cmd)
		return commandResult{status: StatusInternal}
	}
}
