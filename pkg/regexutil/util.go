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

import "regexp"

// ParamsMap maps named groups to the text they matched.
type ParamsMap map[string]string

// GetParams matches input against pattern and returns the values of its named groups.
// ok is false when input does not match. Groups that did not participate are empty.
func GetParams(pattern *regexp.Regexp, input string) (params ParamsMap, ok bool) {
	match := pattern.FindStringSubmatch(input)
	if match == nil {
		return nil, false
	}
	params = make(ParamsMap)
	for i, name := range pattern.SubexpNames() {
		if i > 0 && name != "" {
			params[name] = match[i]
		}
	}
	return params, true
}
