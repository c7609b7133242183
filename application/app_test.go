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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lightbitslabs/discovery-controller/model"
	"github.com/lightbitslabs/discovery-controller/pkg/metrics"
	"github.com/lightbitslabs/discovery-controller/pkg/testutils"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *model.AppConfig {
	v := viper.New()
	v.Set("listen.address", "127.0.0.1")
	v.Set("listen.port", 0)
	v.Set("targetsDir", testutils.CreateTempDir(t))
	v.Set("debug.endpoint", "127.0.0.1:0")
	appConfig, err := model.Load(v)
	require.NoError(t, err)
	return appConfig
}

func TestDebugHandler(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    model.Debug
		path   string
		status int
	}{
		{name: "metrics", cfg: model.Debug{Metrics: true}, path: "/metrics", status: http.StatusOK},
		{name: "metrics disabled", cfg: model.Debug{EnablePprof: true}, path: "/metrics", status: http.StatusNotFound},
		{name: "pprof", cfg: model.Debug{EnablePprof: true}, path: "/debug/pprof/", status: http.StatusOK},
		{name: "pprof disabled", cfg: model.Debug{Metrics: true}, path: "/debug/pprof/", status: http.StatusNotFound},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			debugHandler(tc.cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestDebugHandlerExposesDiscoveryMetrics(t *testing.T) {
	metrics.Metrics.TargetCount.WithLabelValues("app-test").Set(2)
	rec := httptest.NewRecorder()
	debugHandler(model.Debug{Metrics: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `discovery_targets_total{id="app-test"} 2`)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	appConfig := testConfig(t)
	appConfig.Logging.Level = "loud"
	_, err := NewApp(appConfig)
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	app, err := NewApp(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
}

func TestRunFailsOnMissingTargetsDir(t *testing.T) {
	appConfig := testConfig(t)
	appConfig.TargetsDir = appConfig.TargetsDir + "/missing"
	app, err := NewApp(appConfig)
	require.NoError(t, err)
	assert.Error(t, app.Run(context.Background()))
}
