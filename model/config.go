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

package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lightbitslabs/discovery-controller/pkg/logging"
	"github.com/lightbitslabs/discovery-controller/pkg/nvme"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix environment variables override configuration keys, e.g. DC_LISTEN_PORT.
	EnvPrefix = "dc"
	// ConfigName name of the configuration file without extension.
	ConfigName = "discovery-controller"

	DefaultListenAddress   = "0.0.0.0"
	DefaultListenPort      = 8009
	DefaultTargetsDir      = "/etc/discovery-controller/targets.d"
	DefaultDebugEndpoint   = "0.0.0.0:6060"
	DefaultServiceID       = "discovery"
	DefaultLogLevel        = "info"
	DefaultLogMaxAge       = 96 * time.Hour
	DefaultLogMaxSize      = 100
	DefaultControllerID    = 1
	DefaultMdts            = 1
	DefaultFirmwareVersion = "0.0.1"
)

type Debug struct {
	// ip:port to expose debug and metric information
	Endpoint string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	// Enable runtime profiling data via HTTP server. http://<endpoint>/debug/pprof/
	EnablePprof bool `yaml:"enablePprof,omitempty" mapstructure:"enablePprof"`
	// Expose prometheus metrics on http://<endpoint>/metrics
	Metrics bool `yaml:"metrics,omitempty" mapstructure:"metrics"`
}

type Listen struct {
	Address string `yaml:"address,omitempty" mapstructure:"address"`
	Port    int    `yaml:"port,omitempty" mapstructure:"port"`
}

// HostPort is the address the NVMe/TCP listener binds.
func (l Listen) HostPort() string {
	return net.JoinHostPort(l.Address, strconv.Itoa(l.Port))
}

// Controller is the identity every host sees in identify and property responses.
type Controller struct {
	FirmwareRevision string `yaml:"firmwareRevision,omitempty" mapstructure:"firmwareRevision"`
	SubsystemNQN     string `yaml:"subsystemNQN,omitempty" mapstructure:"subsystemNQN"`
	ControllerID     int    `yaml:"controllerID,omitempty" mapstructure:"controllerID"`
	Mdts             int    `yaml:"mdts,omitempty" mapstructure:"mdts"`
}

// Profile builds the controller profile shared by all admin queues.
func (c Controller) Profile() (*nvme.Profile, error) {
	if c.ControllerID <= 0 || c.ControllerID >= 0xffff {
		return nil, fmt.Errorf("controller.controllerID %d out of range [1, 65534]", c.ControllerID)
	}
	if c.Mdts < 0 || c.Mdts > 0xff {
		return nil, fmt.Errorf("controller.mdts %d out of range", c.Mdts)
	}
	return nvme.NewProfile(
		nvme.WithFirmwareRevision(c.FirmwareRevision),
		nvme.WithSubsystemNQN(c.SubsystemNQN),
		nvme.WithControllerID(uint16(c.ControllerID)),
		nvme.WithMdts(uint8(c.Mdts)),
	)
}

type AppConfig struct {
	Logging    logging.Config `yaml:"logging,omitempty" mapstructure:"logging"`
	Debug      Debug          `yaml:"debug,omitempty" mapstructure:"debug"`
	Listen     Listen         `yaml:"listen,omitempty" mapstructure:"listen"`
	ServiceID  string         `yaml:"serviceID,omitempty" mapstructure:"serviceID"`
	TargetsDir string         `yaml:"targetsDir,omitempty" mapstructure:"targetsDir"`
	Controller Controller     `yaml:"controller,omitempty" mapstructure:"controller"`
}

func (c *AppConfig) IsValid() error {
	if err := c.Logging.IsValid(); err != nil {
		return err
	}
	// port 0 binds any free port
	if c.Listen.Port < 0 || c.Listen.Port > 0xffff {
		return fmt.Errorf("invalid listen.port %d", c.Listen.Port)
	}
	if c.Listen.Address != "" && net.ParseIP(c.Listen.Address) == nil {
		return fmt.Errorf("invalid listen.address %q", c.Listen.Address)
	}
	if len(c.TargetsDir) == 0 {
		return fmt.Errorf("targetsDir must be set")
	}
	if len(c.ServiceID) == 0 {
		return fmt.Errorf("serviceID must be set")
	}
	if _, err := c.Controller.Profile(); err != nil {
		return err
	}
	return nil
}

// SetDefaults registers the default of every configuration key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.maxAge", DefaultLogMaxAge)
	v.SetDefault("logging.maxSize", DefaultLogMaxSize)
	v.SetDefault("logging.reportCaller", false)
	v.SetDefault("logging.filename", "")
	v.SetDefault("debug.endpoint", DefaultDebugEndpoint)
	v.SetDefault("debug.enablePprof", false)
	v.SetDefault("debug.metrics", true)
	v.SetDefault("listen.address", DefaultListenAddress)
	v.SetDefault("listen.port", DefaultListenPort)
	v.SetDefault("serviceID", DefaultServiceID)
	v.SetDefault("targetsDir", DefaultTargetsDir)
	v.SetDefault("controller.firmwareRevision", DefaultFirmwareVersion)
	v.SetDefault("controller.subsystemNQN", nvme.DiscoverySubsysName)
	v.SetDefault("controller.controllerID", DefaultControllerID)
	v.SetDefault("controller.mdts", DefaultMdts)
}

// ConfigureEnv makes every key overridable by a DC_ prefixed variable.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadFromViper builds the application configuration from the global viper instance.
func LoadFromViper() (*AppConfig, error) {
	return Load(viper.GetViper())
}

func Load(v *viper.Viper) (*AppConfig, error) {
	SetDefaults(v)
	appConfig := &AppConfig{}
	if err := v.Unmarshal(appConfig); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := appConfig.IsValid(); err != nil {
		return nil, err
	}
	return appConfig, nil
}
