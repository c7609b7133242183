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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/BurntSushi/toml"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/sirupsen/logrus"
)

const (
	confExt = ".conf"
	tomlExt = ".toml"
	// files starting with this prefix are never loaded
	reservedPrefix = "."
)

// ParserError is a targets file that cannot be loaded.
type ParserError struct {
	Msg     string
	Details string
	Err     error
}

func (e *ParserError) Error() string {
	return e.Msg
}

func (e *ParserError) Unwrap() error {
	return e.Err
}

func isTargetsFile(filename string) bool {
	base := filepath.Base(filename)
	if strings.HasPrefix(base, reservedPrefix) {
		return false
	}
	ext := filepath.Ext(base)
	return ext == confExt || ext == tomlExt
}

// ParseFile loads the targets of a .conf or .toml file.
func ParseFile(filename string) ([]*Target, error) {
	switch filepath.Ext(filename) {
	case confExt:
		return parseConf(filename)
	case tomlExt:
		return parseToml(filename)
	default:
		return nil, &ParserError{
			Msg:     "unsupported file",
			Details: fmt.Sprintf("%s is neither %s nor %s", filename, confExt, tomlExt),
		}
	}
}

func trimStringFromHashtag(s string) string {
	if idx := strings.Index(s, "#"); idx != -1 {
		return s[:idx]
	}
	return s
}

// parseConf reads one target per line, in the flag syntax of nvme-cli:
//
//	-t tcp -a 10.0.0.1 -s 4420 -n nqn.2016-01.com.lightbitslabs:uuid:... [-i 1] [-r]
func parseConf(filename string) ([]*Target, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	splitSpacesAndEqualSign := func(c rune) bool {
		return unicode.IsSpace(c) || string(c) == "="
	}
	scanner := bufio.NewScanner(file)
	var targets []*Target
	for lineNum := 1; scanner.Scan(); lineNum++ {
		t := &Target{}
		line := strings.TrimSpace(scanner.Text())
		// remove comments: '#'
		line = trimStringFromHashtag(line)
		// skip empty lines
		if strings.TrimSpace(line) == "" {
			continue
		}

		s := strings.FieldsFunc(line, splitSpacesAndEqualSign)
		value := func(i int) (string, error) {
			if i >= len(s) {
				return "", &ParserError{
					Msg:     "missing value",
					Details: fmt.Sprintf("line %d: %s expects a value", lineNum, s[i-1]),
				}
			}
			return strings.TrimSpace(s[i]), nil
		}
		for i := 0; i < len(s); i++ {
			field := strings.TrimSpace(s[i])
			switch field {
			case "-a", "--traddr":
				i++
				v, err := value(i)
				if err != nil {
					return nil, err
				}
				if _, err := nvme.AdjustTraddr(v); err != nil {
					return nil, &ParserError{
						Msg:     "bad address",
						Details: fmt.Sprintf("line %d: %s is not a valid hostname or IP address", lineNum, v),
						Err:     err,
					}
				}
				t.Traddr = v
			case "-t", "--transport":
				i++
				v, err := value(i)
				if err != nil {
					return nil, err
				}
				if v != "tcp" {
					return nil, &ParserError{
						Msg:     "bad transport",
						Details: fmt.Sprintf("line %d: %s is not a valid transport", lineNum, v),
					}
				}
				t.Transport = v
			case "-s", "--trsvcid":
				i++
				v, err := value(i)
				if err != nil {
					return nil, err
				}
				port, err := strconv.ParseUint(v, 10, 16)
				if err != nil {
					return nil, &ParserError{
						Msg:     "bad port",
						Details: fmt.Sprintf("line %d: %s is not a valid port", lineNum, v),
						Err:     err,
					}
				}
				t.Trsvcid = int(port)
			case "-i", "--portid":
				i++
				v, err := value(i)
				if err != nil {
					return nil, err
				}
				portID, err := strconv.ParseUint(v, 10, 16)
				if err != nil {
					return nil, &ParserError{
						Msg:     "bad port id",
						Details: fmt.Sprintf("line %d: %s is not a valid port id", lineNum, v),
						Err:     err,
					}
				}
				t.PortID = uint16(portID)
			case "-n", "--subsysnqn":
				i++
				v, err := value(i)
				if err != nil {
					return nil, err
				}
				t.Subsysnqn = v
			case "-r", "--referral":
				t.Referral = true
			default:
				return nil, &ParserError{
					Msg:     "unknown flag",
					Details: fmt.Sprintf("line %d: %s is not a vaild flag", lineNum, field),
				}
			}
		}
		if err := t.verify(); err != nil {
			logrus.Warnf("target: %s not valid. %v", line, err)
			continue
		}
		targets = append(targets, t)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return removeDupEntries(targets), nil
}

type tomlTargets struct {
	Targets []Target `toml:"target"`
}

// parseToml reads [[target]] tables.
func parseToml(filename string) ([]*Target, error) {
	var file tomlTargets
	meta, err := toml.DecodeFile(filename, &file)
	if err != nil {
		return nil, &ParserError{
			Msg:     "bad toml",
			Details: fmt.Sprintf("%s: %v", filename, err),
			Err:     err,
		}
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, &ParserError{
			Msg:     "unknown key",
			Details: fmt.Sprintf("%s: %v", filename, undecoded),
		}
	}

	var targets []*Target
	for i := range file.Targets {
		t := &file.Targets[i]
		if t.Transport == "" {
			t.Transport = "tcp"
		}
		if _, err := nvme.AdjustTraddr(t.Traddr); t.Traddr != "" && err != nil {
			return nil, &ParserError{
				Msg:     "bad address",
				Details: fmt.Sprintf("target %d: %s is not a valid hostname or IP address", i, t.Traddr),
				Err:     err,
			}
		}
		if err := t.verify(); err != nil {
			logrus.Warnf("target %d in %s not valid. %v", i, filename, err)
			continue
		}
		targets = append(targets, t)
	}
	return removeDupEntries(targets), nil
}
