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

package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme/nvmehost"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	hostNQNPrefix = "nqn.2014-08.org.nvmexpress:uuid:"
	// We do not use persistent connections when running cli commands
	kato = time.Duration(0)
)

func newDiscoverCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:               "discover",
		Short:             "Read the discovery log of an NVMe/TCP discovery controller",
		Long:              ``,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE:              discoverCmdFunc,
	}

	cmd.Flags().StringP("traddr", "a", "", "traddr")
	viper.BindPFlag("discover.traddr", cmd.Flags().Lookup("traddr"))

	cmd.Flags().IntP("trsvcid", "s", 8009, "trsvcid")
	viper.BindPFlag("discover.trsvcid", cmd.Flags().Lookup("trsvcid"))

	cmd.Flags().StringP("hostnqn", "q", "", "hostnqn (default derived from the host id)")
	viper.BindPFlag("discover.hostnqn", cmd.Flags().Lookup("hostnqn"))

	cmd.Flags().String("hostid-path", nvmehost.DefaultHostIDPath, "file path containing nvme host id")
	viper.BindPFlag("discover.hostidPath", cmd.Flags().Lookup("hostid-path"))

	cmd.Flags().Uint32("page-size", 0, "read the log in chunks of this many bytes (0 reads it at once)")
	viper.BindPFlag("discover.pageSize", cmd.Flags().Lookup("page-size"))

	cmd.Flags().StringP("output", "o", string(JSON), "output format (json|text)")
	viper.BindPFlag("discover.output", cmd.Flags().Lookup("output"))

	return cmd
}

type discoverOutput struct {
	GenCtr  uint64         `json:"genctr"`
	Entries []logPageEntry `json:"entries"`
}

type logPageEntry struct {
	TrType  string `json:"trtype"`
	AdrFam  string `json:"adrfam"`
	SubType string `json:"subtype"`
	PortID  uint16 `json:"portid"`
	Trsvcid string `json:"trsvcid"`
	Subnqn  string `json:"subnqn"`
	Traddr  string `json:"traddr"`
}

func newLogPageEntry(e nvme.DiscoveryEntry) logPageEntry {
	return logPageEntry{
		TrType:  nvme.TransportTypeName(e.TransportType),
		AdrFam:  nvme.AddressFamilyName(e.AddressFamily),
		SubType: e.SubsystemType.String(),
		PortID:  e.PortID,
		Trsvcid: e.TransportServiceID,
		Subnqn:  e.SubsystemNQN,
		Traddr:  e.TransportAddress,
	}
}

func discoverCmdFunc(cmd *cobra.Command, args []string) error {
	traddr := viper.GetString("discover.traddr")
	if traddr == "" {
		return fmt.Errorf("traddr(-a) must be set")
	}
	format, err := parseFormat(viper.GetString("discover.output"))
	if err != nil {
		return err
	}
	hostID, err := nvmehost.LoadHostID(viper.GetString("discover.hostidPath"))
	if err != nil {
		return err
	}
	hostNQN := viper.GetString("discover.hostnqn")
	if hostNQN == "" {
		hostNQN = hostNQNPrefix + hostID.String()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	addr := net.JoinHostPort(traddr, strconv.Itoa(viper.GetInt("discover.trsvcid")))
	client, err := nvmehost.Dial(ctx, addr)
	if err != nil {
		return err
	}
	defer client.Shutdown()

	if _, err := client.Connect(hostNQN, hostID, kato); err != nil {
		return err
	}
	if err := client.EnableController(ctx); err != nil {
		return err
	}
	genctr, entries, err := client.Discover(viper.GetUint32("discover.pageSize"))
	if err != nil {
		return err
	}

	out := &discoverOutput{GenCtr: genctr, Entries: make([]logPageEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, newLogPageEntry(e))
	}
	return print(cmd.OutOrStdout(), out, format)
}
