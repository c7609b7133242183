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
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/lightbitslabs/discovery-controller/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// Transport moves capsules for one admin queue connection. Receive returns exactly one
// command capsule. Data and completion capsules are sent separately because the fabric
// frames them differently.
type Transport interface {
	Receive() ([]byte, error)
	SendData(b []byte) error
	SendStatus(b []byte) error
}

type OutcomeKind int

const (
	// OutcomeClosed the host closed the connection.
	OutcomeClosed OutcomeKind = iota
	// OutcomeFault a transport or decode failure ended the connection.
	OutcomeFault
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeClosed:
		return "closed"
	case OutcomeFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Outcome is how an admin queue terminated.
type Outcome struct {
	Kind     OutcomeKind
	Err      error
	Commands uint64
}

const defaultServiceID = "discovery"

type adminQueueOptions struct {
	profile   *Profile
	discovery DiscoveryLog
	log       *logrus.Entry
	serviceID string
}

type AdminQueueOption func(*adminQueueOptions)

func WithProfile(p *Profile) AdminQueueOption {
	return func(o *adminQueueOptions) { o.profile = p }
}

func WithDiscoveryLog(l DiscoveryLog) AdminQueueOption {
	return func(o *adminQueueOptions) { o.discovery = l }
}

func WithLogger(log *logrus.Entry) AdminQueueOption {
	return func(o *adminQueueOptions) { o.log = log }
}

// WithServiceID sets the id label of the queue metrics.
func WithServiceID(id string) AdminQueueOption {
	return func(o *adminQueueOptions) { o.serviceID = id }
}

type adminQueue struct {
	transport  Transport
	dispatcher *Dispatcher
	serviceID  string
	log        *logrus.Entry
	commands   uint64
}

func newAdminQueue(transport Transport, opts ...AdminQueueOption) *adminQueue {
	o := &adminQueueOptions{serviceID: defaultServiceID}
	for _, opt := range opts {
		opt(o)
	}
	if o.profile == nil {
		o.profile = DefaultProfile()
	}
	if o.log == nil {
		o.log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &adminQueue{
		transport:  transport,
		dispatcher: NewDispatcher(o.profile, o.discovery, o.log),
		serviceID:  o.serviceID,
		log:        o.log,
	}
}

// RunAdminQueue serves one admin queue until the connection terminates. A non nil connect
// is handled as the first capsule, otherwise the host's connect is awaited.
func RunAdminQueue(transport Transport, connect []byte, opts ...AdminQueueOption) {
	q := newAdminQueue(transport, opts...)
	metrics.Metrics.AdminQueues.WithLabelValues(q.serviceID).Inc()
	defer metrics.Metrics.AdminQueues.WithLabelValues(q.serviceID).Dec()

	q.log.Info("starting discovery admin queue")
	outcome := q.serve(connect)
	metrics.Metrics.AdminQueueOutcomesTotal.WithLabelValues(q.serviceID, outcome.Kind.String()).Inc()

	entry := q.log.WithFields(logrus.Fields{"outcome": outcome.Kind, "commands": outcome.Commands})
	switch outcome.Kind {
	case OutcomeClosed:
		entry.Info("admin queue closed")
	default:
		entry.WithError(outcome.Err).Error("admin queue terminated")
	}
}

func (q *adminQueue) serve(connect []byte) Outcome {
	if connect != nil {
		if err := q.process(connect); err != nil {
			return q.fault(err)
		}
	}
	for {
		b, err := q.transport.Receive()
		if err != nil {
			if isClosed(err) {
				return Outcome{Kind: OutcomeClosed, Err: err, Commands: q.commands}
			}
			return q.fault(fmt.Errorf("receive: %w", err))
		}
		if err := q.process(b); err != nil {
			return q.fault(err)
		}
	}
}

func (q *adminQueue) fault(err error) Outcome {
	return Outcome{Kind: OutcomeFault, Err: err, Commands: q.commands}
}

// process handles one capsule. Any returned error is connection fatal.
func (q *adminQueue) process(b []byte) error {
	capsule, err := DecodeCapsule(b)
	if err != nil {
		return err
	}
	q.commands++
	metrics.Metrics.CommandsTotal.WithLabelValues(q.serviceID, OpcodeName(capsule.Opcode)).Inc()

	resp := q.dispatcher.Dispatch(capsule)
	if resp.Data != nil {
		data, err := EncodeData(capsule.CommandID, resp.Data, uint32(len(resp.Data)))
		if err != nil {
			return err
		}
		if err := q.transport.SendData(data); err != nil {
			return fmt.Errorf("send data: %w", err)
		}
		if capsule.Opcode == OpcodeGetLogPage {
			metrics.Metrics.LogPageBytesTotal.WithLabelValues(q.serviceID).Add(float64(len(resp.Data)))
		}
	}

	status, err := EncodeStatus(resp.Completion)
	if err != nil {
		return err
	}
	if err := q.transport.SendStatus(status); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	metrics.Metrics.CompletionsTotal.WithLabelValues(q.serviceID, resp.Completion.StatusCode().String()).Inc()
	return nil
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
