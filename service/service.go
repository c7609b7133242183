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

package service

import (
	"context"
	"net"
	"sync"

	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme/nvmetcp"
	"github.com/lightbitslabs/discovery-controller/pkg/targets"
	"github.com/sirupsen/logrus"
)

type Service interface {
	Start() error
	Stop() error
	// Addr is the address the discovery listener is bound to, nil before Start.
	Addr() net.Addr
}

type service struct {
	registry   *targets.Registry
	server     *nvmetcp.Server
	listenAddr string
	ln         net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	log        *logrus.Entry
	wg         *sync.WaitGroup
	serveErr   error
}

// NewService serves the discovery log of targetsDir on listenAddr.
func NewService(ctx context.Context, serviceID string, listenAddr string, targetsDir string, profile *nvme.Profile) Service {
	registry := targets.NewRegistry(serviceID, targetsDir)
	s := &service{
		registry:   registry,
		server:     nvmetcp.NewServer(serviceID, profile, registry),
		listenAddr: listenAddr,
		log:        logrus.WithFields(logrus.Fields{"service_id": serviceID}),
	}
	var wg sync.WaitGroup
	s.wg = &wg
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// Start loads the targets, watches them for changes and starts accepting hosts.
func (s *service) Start() error {
	// watch before the initial load so no file added in between is missed.
	if err := s.registry.Run(s.ctx); err != nil {
		return err
	}
	if err := s.registry.Load(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	genctr, entries := s.registry.Snapshot()
	s.log.Infof("advertising %d targets, genctr %d", len(entries), genctr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(s.ctx, ln); err != nil {
			s.log.WithError(err).Error("discovery server failed")
			s.serveErr = err
		}
	}()
	return nil
}

func (s *service) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and all admin queues and waits for them to drain.
func (s *service) Stop() error {
	s.cancel()
	s.wg.Wait()
	s.log.Info("discovery service stopped")
	return s.serveErr
}
