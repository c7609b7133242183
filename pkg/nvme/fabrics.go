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

func (d *Dispatcher) connect(cmd *ConnectCommand) commandResult {
	if d.state == Established {
		d.log.Warnf("connect on an established admin queue")
		return commandResult{status: StatusCommandSequence}
	}
	if cmd.RecordFormat != 0 {
		d.log.Warnf("invalid connect version (%d)", cmd.RecordFormat)
		return commandResult{status: StatusConnectFormat}
	}
	if cmd.QueueID != 0 {
		d.log.Warnf("connect for io queue %d on a discovery controller", cmd.QueueID)
		return commandResult{status: StatusConnectInvalidParam}
	}
	if cmd.QueueSize == 0 {
		d.log.Warnf("connect with queue size 0")
		return commandResult{status: StatusConnectInvalidParam}
	}

	d.state = Established
	d.queueSize = cmd.QueueSize
	d.head = 0
	d.kato = time.Duration(cmd.KeepAliveTimeout) * time.Millisecond
	d.log.WithFields(logrus.Fields{
		"queue_size": d.queueSize,
		"kato":       d.kato,
	}).Info("admin queue connected")
	return commandResult{status: StatusSuccess, result: uint64(d.profile.ControllerID())}
}

func (d *Dispatcher) propertyGet(cmd *PropertyGetCommand) commandResult {
	value, status := d.props.Get(cmd.Offset, cmd.Size)
	if !status.IsSuccess() {
		d.log.Warnf("invalid property_get %s(%#02x) size %d", registerName(cmd.Offset), cmd.Offset, cmd.Size)
	}
	return commandResult{status: status, result: value}
}

func (d *Dispatcher) propertySet(cmd *PropertySetCommand) commandResult {
	status := d.props.Set(cmd.Offset, cmd.Size, cmd.Value)
	if !status.IsSuccess() {
		d.log.Warnf("invalid property_set %s(%#02x) size %d", registerName(cmd.Offset), cmd.Offset, cmd.Size)
		return commandResult{status: status}
	}
	d.log.Debugf("controller configuration %#x, enabled: %t", cmd.Value, d.props.IsEnabled())
	return commandResult{status: status}
}
