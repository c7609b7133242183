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

package targets

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightbitslabs/discovery-controller/pkg/metrics"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lightbitslabs/discovery-controller/pkg/testutils"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func confLine(traddr string, nqn string) string {
	return fmt.Sprintf("-t tcp -a %s -s 4420 -n %s\n", traddr, nqn)
}

func addresses(entries []nvme.DiscoveryEntry) []string {
	var addrs []string
	for _, entry := range entries {
		addrs = append(addrs, entry.TransportAddress)
	}
	return addrs
}

func TestRegistryLoad(t *testing.T) {
	dir := testutils.CreateTempDir(t)
	testutils.CreateFile(t, filepath.Join(dir, "a.conf"), confLine("10.0.0.1", subsys1)+confLine("10.0.0.2", subsys1))
	// duplicates across files are advertised once
	testutils.CreateFile(t, filepath.Join(dir, "b.toml"), `
[[target]]
traddr = "10.0.0.2"
trsvcid = 4420
subsysnqn = "`+subsys1+`"

[[target]]
traddr = "10.0.0.3"
trsvcid = 4420
subsysnqn = "`+subsys2+`"
`)
	testutils.CreateFile(t, filepath.Join(dir, "broken.conf"), "-t tcp -a 10.0.0.9 -s nope -n "+subsys1)
	testutils.CreateFile(t, filepath.Join(dir, "notes.txt"), confLine("10.0.0.8", subsys1))
	testutils.CreateFile(t, filepath.Join(dir, "sub", "c.conf"), confLine("10.0.0.7", subsys1))

	r := NewRegistry("load", dir)
	assert.Zero(t, r.GenerationCounter())
	assert.Empty(t, r.Entries())

	require.NoError(t, r.Load())
	assert.Equal(t, uint64(1), r.GenerationCounter())
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, addresses(r.Entries()))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.Metrics.TargetCount.WithLabelValues("load")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Metrics.TargetsGeneration.WithLabelValues("load")))

	// reloading unchanged files keeps the generation
	require.NoError(t, r.Load())
	assert.Equal(t, uint64(1), r.GenerationCounter())

	testutils.DeleteFile(t, filepath.Join(dir, "a.conf"))
	require.NoError(t, r.Load())
	assert.Equal(t, uint64(2), r.GenerationCounter())
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, addresses(r.Entries()))
}

func TestRegistryLoadMissingDir(t *testing.T) {
	r := NewRegistry("missing", filepath.Join(testutils.CreateTempDir(t), "missing"))
	assert.Error(t, r.Load())
}

func TestRegistryEntriesAreCopies(t *testing.T) {
	dir := testutils.CreateTempDir(t)
	testutils.CreateFile(t, filepath.Join(dir, "a.conf"), confLine("10.0.0.1", subsys1))
	r := NewRegistry("copies", dir)
	require.NoError(t, r.Load())

	entries := r.Entries()
	entries[0].TransportAddress = "10.9.9.9"
	assert.Equal(t, "10.0.0.1", r.Entries()[0].TransportAddress)
}

func TestRegistryRun(t *testing.T) {
	dir := testutils.CreateTempDir(t)
	testutils.CreateFile(t, filepath.Join(dir, "a.conf"), confLine("10.0.0.1", subsys1))
	r := NewRegistry("run", dir)
	require.NoError(t, r.Load())
	require.Equal(t, uint64(1), r.GenerationCounter())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Run(ctx))

	// write to a temp name and rename into place so no partial file is ever loaded
	tmp := filepath.Join(dir, ".b.conf.tmp")
	testutils.CreateFile(t, tmp, confLine("10.0.0.2", subsys2))
	testutils.RenameFile(t, tmp, filepath.Join(dir, "b.conf"))
	require.Eventually(t, func() bool {
		return len(r.Entries()) == 2
	}, waitFor, tick, "new file was not picked up")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addresses(r.Entries()))
	assert.Greater(t, r.GenerationCounter(), uint64(1))

	genctr := r.GenerationCounter()
	testutils.DeleteFile(t, filepath.Join(dir, "a.conf"))
	require.Eventually(t, func() bool {
		return len(r.Entries()) == 1
	}, waitFor, tick, "removed file was not dropped")
	assert.Equal(t, []string{"10.0.0.2"}, addresses(r.Entries()))
	assert.Greater(t, r.GenerationCounter(), genctr)

	// a file that stops parsing keeps its last good targets
	genctr = r.GenerationCounter()
	testutils.CreateFile(t, tmp, "-t tcp -a 10.0.0.2 -s nope -n "+subsys2)
	testutils.RenameFile(t, tmp, filepath.Join(dir, "b.conf"))
	testutils.CreateFile(t, filepath.Join(dir, "c.conf"), confLine("10.0.0.3", subsys2))
	require.Eventually(t, func() bool {
		return len(r.Entries()) == 2
	}, waitFor, tick, "new file was not picked up")
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, addresses(r.Entries()))
	assert.Greater(t, r.GenerationCounter(), genctr)
}

func TestRegistryRunMissingDir(t *testing.T) {
	r := NewRegistry("run-missing", filepath.Join(testutils.CreateTempDir(t), "missing"))
	assert.Error(t, r.Run(context.Background()))
}

func TestRegistryServesDiscoveryLog(t *testing.T) {
	dir := testutils.CreateTempDir(t)
	testutils.CreateFile(t, filepath.Join(dir, "a.conf"), confLine("10.0.0.1", subsys1)+"-t tcp -a 10.0.0.100 -s 8009 -r\n")
	r := NewRegistry("serve", dir)
	require.NoError(t, r.Load())

	var log nvme.DiscoveryLog = r
	page, err := nvme.BuildDiscoveryLogPage(log.Snapshot())
	require.NoError(t, err)
	hdr, entries, err := nvme.DecodeDiscoveryLogPage(page)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), hdr.GenCtr)
	require.Len(t, entries, 2)
	assert.Equal(t, nvme.NVME_NQN_DISC, entries[0].SubsystemType)
	assert.Equal(t, nvme.DiscoverySubsysName, entries[0].SubsystemNQN)
	assert.Equal(t, nvme.NVME_NQN_NVME, entries[1].SubsystemType)
	assert.Equal(t, subsys1, entries[1].SubsystemNQN)
}

// useResolver routes hostname lookups of the test through dial.
func useResolver(t *testing.T, dial func(ctx context.Context, network, address string) (net.Conn, error)) {
	t.Helper()
	orig := net.DefaultResolver
	net.DefaultResolver = &net.Resolver{PreferGo: true, Dial: dial}
	t.Cleanup(func() { net.DefaultResolver = orig })
}

func TestRegistrySnapshot(t *testing.T) {
	dir := testutils.CreateTempDir(t)
	testutils.CreateFile(t, filepath.Join(dir, "a.conf"), confLine("10.0.0.1", subsys1)+confLine("10.0.0.2", subsys1))
	r := NewRegistry("snapshot", dir)
	require.NoError(t, r.Load())

	genctr, entries := r.Snapshot()
	assert.Equal(t, uint64(1), genctr)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addresses(entries))

	entries[0].TransportAddress = "10.9.9.9"
	_, entries = r.Snapshot()
	assert.Equal(t, "10.0.0.1", entries[0].TransportAddress)
}

func TestRegistryRebuildDoesNotResolve(t *testing.T) {
	var dials atomic.Int32
	useResolver(t, func(ctx context.Context, network, address string) (net.Conn, error) {
		dials.Add(1)
		return nil, errors.New("dns unreachable")
	})

	r := NewRegistry("rebuild", testutils.CreateTempDir(t))
	hostname := Target{Transport: "tcp", Traddr: "storage.example.com", Trsvcid: 4420, Subsysnqn: subsys1}
	ip := Target{Transport: "tcp", Traddr: "10.0.0.1", Trsvcid: 4420, Subsysnqn: subsys1}

	// a hostname that does not resolve is dropped when the file is read
	resolved := r.resolve([]*Target{&hostname, &ip})
	require.Len(t, resolved, 1)
	assert.Equal(t, "10.0.0.1", resolved[0].entry.TransportAddress)

	entry := nvme.DiscoveryEntry{
		TransportType:      nvme.TransportTypeTCP,
		AddressFamily:      nvme.AddressFamilyIPv4,
		SubsystemType:      nvme.NVME_NQN_NVME,
		TransportServiceID: "4420",
		SubsystemNQN:       subsys1,
		TransportAddress:   "10.0.0.5",
	}
	dials.Store(0)
	r.mu.Lock()
	r.files["a.conf"] = []resolvedTarget{{target: hostname, entry: entry}}
	r.rebuild()
	r.mu.Unlock()

	assert.Zero(t, dials.Load())
	genctr, entries := r.Snapshot()
	assert.Equal(t, uint64(1), genctr)
	assert.Equal(t, []string{"10.0.0.5"}, addresses(entries))
}

func TestRegistrySlowLookupDoesNotBlockReaders(t *testing.T) {
	dialing := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	useResolver(t, func(ctx context.Context, network, address string) (net.Conn, error) {
		once.Do(func() { close(dialing) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, errors.New("dns unreachable")
	})

	dir := testutils.CreateTempDir(t)
	testutils.CreateFile(t, filepath.Join(dir, "a.conf"), confLine("10.0.0.1", subsys1))
	r := NewRegistry("slow-dns", dir)
	require.NoError(t, r.Load())

	path := filepath.Join(dir, "b.conf")
	testutils.CreateFile(t, path, confLine("storage.example.com", subsys2))
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.fileChanged(path)
	}()
	defer func() {
		close(release)
		<-done
	}()

	select {
	case <-dialing:
	case <-done:
		t.Skip("hostname lookups do not reach dns on this host")
	case <-time.After(waitFor):
		t.Fatal("lookup never started")
	}

	start := time.Now()
	genctr, entries := r.Snapshot()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), genctr)
	assert.Equal(t, []string{"10.0.0.1"}, addresses(entries))
}
