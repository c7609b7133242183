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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdjustTraddr(t *testing.T) {
	for _, traddr := range []string{"10.0.0.1", "fe80::1"} {
		got, err := AdjustTraddr(traddr)
		require.NoError(t, err)
		assert.Equal(t, traddr, got)
	}

	_, err := AdjustTraddr("host.invalid")
	assert.Error(t, err)
}

func TestAddressFamily(t *testing.T) {
	testCases := []struct {
		traddr  string
		want    uint8
		wantErr bool
	}{
		{traddr: "10.0.0.1", want: AddressFamilyIPv4},
		{traddr: "::ffff:10.0.0.1", want: AddressFamilyIPv4},
		{traddr: "fe80::1", want: AddressFamilyIPv6},
		{traddr: "localhost", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.traddr, func(t *testing.T) {
			got, err := AddressFamily(tc.traddr)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDiscoveryFieldNames(t *testing.T) {
	assert.Equal(t, "tcp", TransportTypeName(TransportTypeTCP))
	assert.Equal(t, "rdma", TransportTypeName(TransportTypeRDMA))
	assert.Equal(t, "unknown", TransportTypeName(0xff))
	assert.Equal(t, "ipv4", AddressFamilyName(AddressFamilyIPv4))
	assert.Equal(t, "ipv6", AddressFamilyName(AddressFamilyIPv6))
	assert.Equal(t, "discovery", NVME_NQN_DISC.String())
	assert.Equal(t, "nvme", NVME_NQN_NVME.String())
	assert.Equal(t, "nvme_admin_get_log_page", OpcodeName(OpcodeGetLogPage))
	assert.Equal(t, "UNKNOWN", OpcodeName(0x7e))
}
