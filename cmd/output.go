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
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
)

type outputFormat string

const (
	JSON outputFormat = "json"
	Text outputFormat = "text"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(s); f {
	case JSON, Text:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

func print(w io.Writer, out *discoverOutput, format outputFormat) error {
	switch format {
	case JSON:
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case Text:
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "genctr: %d\n", out.GenCtr)
		fmt.Fprintln(tw, "TRTYPE\tADRFAM\tSUBTYPE\tPORTID\tTRSVCID\tTRADDR\tSUBNQN")
		for _, e := range out.Entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n", e.TrType, e.AdrFam, e.SubType, e.PortID, e.Trsvcid, e.Traddr, e.Subnqn)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
