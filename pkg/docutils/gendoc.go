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

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

func NewGenDocCmd(applicationName string) *cobra.Command {
	short := fmt.Sprintf("Generate a Markdown format file for each command in `%s` CLI.", applicationName)
	long := fmt.Sprintf("Generate Markdown documentation for the `%s` CLI.", applicationName)

	var singleFile bool
	cmd := &cobra.Command{
		Use:               "doc",
		Short:             short,
		DisableAutoGenTag: true,
		Long:              long,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := cmd.Flags().GetString("dir")
			if err != nil {
				return err
			}
			return GenMarkdownTree(cmd.Root(), dir, singleFile)
		},
	}

	cmd.Flags().String("dir", fmt.Sprintf("/tmp/%s-doc/", applicationName), "The directory to write the doc.")

	cmd.Flags().BoolVar(&singleFile, "single-file", false, "generate all commands in single Markdown file.")
	// For bash-completion
	cmd.Flags().SetAnnotation("dir", cobra.BashCompSubdirsInDir, []string{})
	return cmd
}

// GenMarkdownTree writes the documentation of root and all its sub commands to dir, one file per
// command or everything in <root>.md when singleFile is set.
func GenMarkdownTree(root *cobra.Command, dir string, singleFile bool) error {
	if !strings.HasSuffix(dir, string(os.PathSeparator)) {
		dir += string(os.PathSeparator)
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		log.Println("Directory", dir, "does not exist, creating...")
		if err := os.MkdirAll(dir, 0777); err != nil {
			return err
		}
	}
	log.Println("Generating discovery controller command-line documentation in", dir, "...")

	root.DisableAutoGenTag = true
	if !singleFile {
		prepender := func(filename string) string {
			return ""
		}
		linkHandler := func(name string) string {
			return name
		}
		return doc.GenMarkdownTreeCustom(root, dir, prepender, linkHandler)
	}

	f, err := os.Create(filepath.Join(dir, root.Name()+".md"))
	if err != nil {
		return err
	}
	defer f.Close()
	// all commands live in one file, links become anchors
	linkHandler := func(name string) string {
		return "#" + strings.ReplaceAll(strings.TrimSuffix(name, ".md"), "_", "-")
	}
	return genMarkdownSingle(root, f, linkHandler)
}

func genMarkdownSingle(cmd *cobra.Command, f *os.File, linkHandler func(string) string) error {
	cmd.DisableAutoGenTag = true
	if err := doc.GenMarkdownCustom(cmd, f, linkHandler); err != nil {
		return err
	}
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() || c.IsAdditionalHelpTopicCommand() {
			continue
		}
		if err := genMarkdownSingle(c, f, linkHandler); err != nil {
			return err
		}
	}
	return nil
}
