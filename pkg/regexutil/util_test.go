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

package regexutil

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetParams(t *testing.T) {
	pattern := regexp.MustCompile(`^(?P<host>[^:]+)(?::(?P<port>\d+))?$`)
	testCases := []struct {
		input  string
		want   ParamsMap
		wantOk bool
	}{
		{input: "10.0.0.1:4420", want: ParamsMap{"host": "10.0.0.1", "port": "4420"}, wantOk: true},
		{input: "10.0.0.1", want: ParamsMap{"host": "10.0.0.1", "port": ""}, wantOk: true},
		{input: "", wantOk: false},
		{input: "10.0.0.1:port", wantOk: false},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			params, ok := GetParams(pattern, tc.input)
			assert.Equal(t, tc.wantOk, ok)
			assert.Equal(t, tc.want, params)
		})
	}
}
