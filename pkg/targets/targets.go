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

// Package targets keeps the set of NVM subsystem ports advertised in the discovery log.
package targets

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/lightbitslabs/discovery-controller/pkg/collections"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lightbitslabs/discovery-controller/pkg/regexutil"
)

var validTransports = []string{"tcp"}

// maxNQNLength excludes the terminating null of the 256 byte field.
const maxNQNLength = 223

var nqnPattern = regexp.MustCompile(`^nqn\.(?P<date>[0-9]{4}-[0-9]{2})\.(?P<authority>[A-Za-z0-9][A-Za-z0-9.-]*?)(?::(?P<name>.+))?$`)

// validateNQN checks the nqn.yyyy-mm.<reverse domain>[:<name>] layout.
func validateNQN(nqn string) error {
	if len(nqn) > maxNQNLength {
		return fmt.Errorf("nqn %q longer than %d bytes", nqn, maxNQNLength)
	}
	params, ok := regexutil.GetParams(nqnPattern, nqn)
	if !ok {
		return fmt.Errorf("nqn %q is not of the form nqn.yyyy-mm.<reverse domain>:<name>", nqn)
	}
	if month := params["date"][5:]; month < "01" || month > "12" {
		return fmt.Errorf("nqn %q has an invalid month", nqn)
	}
	return nil
}

// Target is one subsystem port a host may connect to.
type Target struct {
	Transport string `toml:"transport"`
	Traddr    string `toml:"traddr"`
	Trsvcid   int    `toml:"trsvcid"`
	Subsysnqn string `toml:"subsysnqn"`
	PortID    uint16 `toml:"port_id"`
	// Referral points the host at another discovery service.
	Referral bool `toml:"referral"`
}

func (t *Target) verify() error {
	if len(t.Subsysnqn) == 0 && !t.Referral {
		return fmt.Errorf("Subsysnqn is mandatory")
	}
	if len(t.Subsysnqn) > 0 {
		if err := validateNQN(t.Subsysnqn); err != nil {
			return err
		}
	}
	if len(t.Traddr) == 0 {
		return fmt.Errorf("Traddr is mandatory")
	}
	if t.Trsvcid <= 0 || t.Trsvcid > 0xffff {
		return fmt.Errorf("Trsvcid %d out of range", t.Trsvcid)
	}
	if !collections.Include(validTransports, t.Transport) {
		return fmt.Errorf("Transport %q not supported", t.Transport)
	}
	return nil
}

func (t *Target) String() string {
	return fmt.Sprintf("%s://%s:%d/%s", t.Transport, t.Traddr, t.Trsvcid, t.Subsysnqn)
}

// Entry renders the target as a discovery log entry. Hostnames are resolved.
func (t *Target) Entry() (nvme.DiscoveryEntry, error) {
	traddr, err := nvme.AdjustTraddr(t.Traddr)
	if err != nil {
		return nvme.DiscoveryEntry{}, err
	}
	adrfam, err := nvme.AddressFamily(traddr)
	if err != nil {
		return nvme.DiscoveryEntry{}, err
	}
	entry := nvme.DiscoveryEntry{
		TransportType:      nvme.TransportTypeTCP,
		AddressFamily:      adrfam,
		SubsystemType:      nvme.NVME_NQN_NVME,
		Treq:               nvme.TreqNotSpecified,
		PortID:             t.PortID,
		TransportServiceID: strconv.Itoa(t.Trsvcid),
		SubsystemNQN:       t.Subsysnqn,
		TransportAddress:   traddr,
	}
	if t.Referral {
		entry.SubsystemType = nvme.NVME_NQN_DISC
		if entry.SubsystemNQN == "" {
			entry.SubsystemNQN = nvme.DiscoverySubsysName
		}
	}
	return entry, nil
}

func compareTargets(a, b *Target) int {
	return cmp.Or(
		cmp.Compare(a.Subsysnqn, b.Subsysnqn),
		cmp.Compare(a.Traddr, b.Traddr),
		cmp.Compare(a.Trsvcid, b.Trsvcid),
		cmp.Compare(a.PortID, b.PortID),
	)
}

// removeDupEntries returns the distinct targets ordered by subsystem and address.
func removeDupEntries(targets []*Target) []*Target {
	// Implementing a kind of set data structure by utilizing the fact that map keys are unique
	targetsSet := map[Target]bool{}
	uniqueTargets := []*Target{}
	for _, t := range targets {
		if targetsSet[*t] {
			continue
		}
		targetsSet[*t] = true
		uniqueTargets = append(uniqueTargets, t)
	}
	slices.SortFunc(uniqueTargets, compareTargets)
	return uniqueTargets
}

func TargetsToString(targets []*Target) string {
	var sb strings.Builder
	for _, target := range targets {
		sb.WriteString(fmt.Sprintf("%+v\n", target))
	}
	return sb.String()
}
