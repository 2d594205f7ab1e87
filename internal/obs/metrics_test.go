package obs

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/members/PA1":                "/v1/members/:id",
		"/v1/members/PA1/ballots":        "/v1/members/:id/ballots",
		"/v1/members/PA1/coherence":      "/v1/members/:id/coherence",
		"/v1/members/PA1/extra":          "/v1/members/PA1/extra",
		"/v1/bodies/PO1":                 "/v1/bodies/:id",
		"/v1/bodies/PO1/members":         "/v1/bodies/:id/members",
		"/v1/ballots":                    "/v1/ballots",
		"/v1/ballots/42":                 "/v1/ballots/:id",
		"/v1/ballots?q=budget&from=2024": "/v1/ballots",
		"/v1/members":                    "/v1/members",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInitBuildInfoReplacesLabels(t *testing.T) {
	InitBuildInfo("v0.1.0", "abc")
	InitBuildInfo("v0.2.0", "def")

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "hemicycle_build_info" {
			continue
		}
		if len(mf.GetMetric()) != 1 {
			t.Fatalf("expected one build_info series, got %d", len(mf.GetMetric()))
		}
		labels := map[string]string{}
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		if labels["version"] != "v0.2.0" || labels["commit"] != "def" || labels["goversion"] != runtime.Version() {
			t.Fatalf("unexpected labels: %v", labels)
		}
		return
	}
	t.Fatal("hemicycle_build_info not registered")
}
