// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"testing"
)

func TestSetupNone(t *testing.T) {
	p, err := Setup(context.Background(), Config{Exporter: ExporterNone})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on no-op provider: %v", err)
	}
}

func TestSetupStdout(t *testing.T) {
	p, err := Setup(context.Background(), Config{
		Exporter:       ExporterStdout,
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.tp == nil {
		t.Fatal("stdout exporter should install a real provider")
	}
}

func TestSetupUnknownExporter(t *testing.T) {
	if _, err := Setup(context.Background(), Config{Exporter: "jaeger"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestSetupOTLPRequiresEndpoint(t *testing.T) {
	for _, exporter := range []string{ExporterOTLPGRPC, ExporterOTLPHTTP} {
		if _, err := Setup(context.Background(), Config{Exporter: exporter}); err == nil {
			t.Errorf("%s without endpoint should fail", exporter)
		}
	}
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("nil provider Shutdown: %v", err)
	}
	if err := p.ForceFlush(context.Background()); err != nil {
		t.Errorf("nil provider ForceFlush: %v", err)
	}
}
