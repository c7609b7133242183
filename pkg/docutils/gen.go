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

package docutils

import "github.com/spf13/cobra"

// NewGenCmd groups the documentation and completion generators.
func NewGenCmd(applicationName string) *cobra.Command {
	cmd := &cobra.Command{
		Use:               "gen",
		Short:             "Generate documentation and shell completion",
		DisableAutoGenTag: true,
	}
	cmd.AddCommand(
		NewGenDocCmd(applicationName),
		NewAutocompleteCmd(applicationName),
	)
	return cmd
}
