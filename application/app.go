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

package application

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightbitslabs/discovery-controller/model"
	"github.com/lightbitslabs/discovery-controller/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const debugShutdownTimeout = 5 * time.Second

type App struct {
	config *model.AppConfig
	log    *logrus.Entry
}

func NewApp(appConfig *model.AppConfig) (*App, error) {
	if err := appConfig.IsValid(); err != nil {
		return nil, err
	}
	return &App{
		config: appConfig,
		log:    logrus.WithFields(logrus.Fields{"service_id": appConfig.ServiceID}),
	}, nil
}

// Start runs the application until SIGINT or SIGTERM.
func (a *App) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// Run serves discovery and the debug endpoint until ctx is done.
func (a *App) Run(ctx context.Context) error {
	profile, err := a.config.Controller.Profile()
	if err != nil {
		return err
	}
	svc := service.NewService(ctx, a.config.ServiceID, a.config.Listen.HostPort(), a.config.TargetsDir, profile)
	if err := svc.Start(); err != nil {
		a.log.WithError(err).Error("failed to start discovery service")
		svc.Stop()
		return err
	}

	var debugServer *http.Server
	if a.config.Debug.Metrics || a.config.Debug.EnablePprof {
		debugServer = &http.Server{
			Addr:              a.config.Debug.Endpoint,
			Handler:           debugHandler(a.config.Debug),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.log.Infof("debug endpoint listening on %s", debugServer.Addr)
			if err := debugServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Error("debug endpoint failed")
			}
		}()
	}

	a.log.Infof("******************** %s serving on %s ********************", os.Args[0], svc.Addr())
	<-ctx.Done()
	a.log.Info("shutting down")

	if debugServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), debugShutdownTimeout)
		defer cancel()
		if err := debugServer.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("failed to stop debug endpoint")
		}
	}
	return svc.Stop()
}

func debugHandler(cfg model.Debug) http.Handler {
	mux := http.NewServeMux()
	if cfg.Metrics {
		mux.Handle("/metrics", promhttp.Handler())
	}
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}
