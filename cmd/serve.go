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
	"fmt"
	"os"

	"github.com/lightbitslabs/discovery-controller/application"
	"github.com/lightbitslabs/discovery-controller/model"
	"github.com/lightbitslabs/discovery-controller/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd() *cobra.Command {

	var cmd = &cobra.Command{
		Use:               "serve",
		Short:             "Start NVMe/TCP Discovery Controller",
		Long:              ``,
		DisableAutoGenTag: true,
		RunE:              serveCmdFunc,
	}

	// configure logging
	cmd.Flags().String("logging.filename", "", "filename to write log to")
	viper.BindPFlag("logging.filename", cmd.Flags().Lookup("logging.filename"))
	cmd.MarkFlagFilename("logging.filename", "log")

	cmd.Flags().Duration("logging.maxAge", model.DefaultLogMaxAge, "Time to wait until old logs are purged")
	viper.BindPFlag("logging.maxAge", cmd.Flags().Lookup("logging.maxAge"))

	cmd.Flags().Int("logging.maxSize", model.DefaultLogMaxSize, "Maximum size in megabytes of the log file before it gets rotated.")
	viper.BindPFlag("logging.maxSize", cmd.Flags().Lookup("logging.maxSize"))

	cmd.Flags().Bool("logging.reportCaller", false, "Report func name and line number on log entry")
	viper.BindPFlag("logging.reportCaller", cmd.Flags().Lookup("logging.reportCaller"))

	cmd.Flags().String("logging.level", model.DefaultLogLevel, "Log level we support")
	viper.BindPFlag("logging.level", cmd.Flags().Lookup("logging.level"))

	cmd.Flags().String("debug.endpoint", model.DefaultDebugEndpoint, "ip:port to expose debug and metric information")
	viper.BindPFlag("debug.endpoint", cmd.Flags().Lookup("debug.endpoint"))

	cmd.Flags().Bool("debug.enablePprof", false, "Enable runtime profiling data via HTTP server. http://<endpoint>/debug/pprof/")
	viper.BindPFlag("debug.enablePprof", cmd.Flags().Lookup("debug.enablePprof"))

	cmd.Flags().Bool("debug.metrics", true, "Expose prometheus metrics on http://<endpoint>/metrics")
	viper.BindPFlag("debug.metrics", cmd.Flags().Lookup("debug.metrics"))

	cmd.Flags().String("listen.address", model.DefaultListenAddress, "ip address the discovery controller listens on")
	viper.BindPFlag("listen.address", cmd.Flags().Lookup("listen.address"))

	cmd.Flags().Int("listen.port", model.DefaultListenPort, "NVMe/TCP port the discovery controller listens on")
	viper.BindPFlag("listen.port", cmd.Flags().Lookup("listen.port"))

	cmd.Flags().String("serviceID", model.DefaultServiceID, "id label of the exposed metrics")
	viper.BindPFlag("serviceID", cmd.Flags().Lookup("serviceID"))

	cmd.Flags().String("targetsDir", model.DefaultTargetsDir, "Directory to watch for target configuration files")
	viper.BindPFlag("targetsDir", cmd.Flags().Lookup("targetsDir"))
	cmd.MarkFlagDirname("targetsDir")

	// controller identity
	cmd.Flags().String("controller.firmwareRevision", model.DefaultFirmwareVersion, "firmware revision reported by identify")
	viper.BindPFlag("controller.firmwareRevision", cmd.Flags().Lookup("controller.firmwareRevision"))
	cmd.Flags().Int("controller.controllerID", model.DefaultControllerID, "controller id returned on connect")
	viper.BindPFlag("controller.controllerID", cmd.Flags().Lookup("controller.controllerID"))
	cmd.Flags().Int("controller.mdts", model.DefaultMdts, "maximum data transfer size as a power of two of 4KiB pages")
	viper.BindPFlag("controller.mdts", cmd.Flags().Lookup("controller.mdts"))
	return cmd
}

func serveCmdFunc(cmd *cobra.Command, args []string) error {
	appConfig, err := model.LoadFromViper()
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "discovery-controller configuration: %#v\n", *appConfig)

	if err = logging.SetupLogging(appConfig.Logging); err != nil {
		return err
	}
	logrus.Infof("******************** %s started ********************", os.Args[0])

	app, err := application.NewApp(appConfig)
	if err != nil {
		logrus.WithError(err).Errorf("failed to create new application")
		return err
	}
	if err = app.Start(); err != nil {
		logrus.WithError(err).Errorf("failed to start application")
	}
	return err
}
