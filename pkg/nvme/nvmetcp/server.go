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
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/lightbitslabs/discovery-controller/pkg/metrics"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/sirupsen/logrus"
)

// Server accepts NVMe/TCP connections and runs one discovery admin queue per connection.
type Server struct {
	profile   *nvme.Profile
	discovery nvme.DiscoveryLog
	serviceID string

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
	log     *logrus.Entry
}

func NewServer(serviceID string, profile *nvme.Profile, discovery nvme.DiscoveryLog) *Server {
	if profile == nil {
		profile = nvme.DefaultProfile()
	}
	return &Server{
		profile:   profile,
		discovery: discovery,
		serviceID: serviceID,
		conns:     make(map[net.Conn]struct{}),
		log:       logrus.WithFields(logrus.Fields{"service_id": serviceID}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Open connections are closed and
// drained before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	s.log.Infof("serving discovery on %s", ln.Addr())
	metrics.Metrics.TCPServingStatus.WithLabelValues(s.serviceID).Set(1)
	defer metrics.Metrics.TCPServingStatus.WithLabelValues(s.serviceID).Set(0)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		s.closeAllConns()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.closeAllConns()
				s.wg.Wait()
				s.log.Info("discovery server stopped")
				return nil
			}
			s.closeAllConns()
			s.wg.Wait()
			return err
		}
		if !s.trackConn(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(tcpConn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(tcpConn)
	defer tcpConn.Close()

	log := s.log.WithFields(logrus.Fields{
		"conn_id":     uuid.New().String(),
		"local_addr":  tcpConn.LocalAddr(),
		"remote_addr": tcpConn.RemoteAddr(),
	})
	conn := NewConn(tcpConn, log)
	if err := conn.Accept(); err != nil {
		log.WithError(err).Warn("nvme-tcp connection initialization failed")
		return
	}
	nvme.RunAdminQueue(conn, nil,
		nvme.WithProfile(s.profile),
		nvme.WithDiscoveryLog(s.discovery),
		nvme.WithLogger(log),
		nvme.WithServiceID(s.serviceID),
	)
}

// trackConn returns false once the server is shutting down.
func (s *Server) trackConn(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.closed = true
	for conn := range s.conns {
		conn.Close()
		delete(s.conns, conn)
	}
}
