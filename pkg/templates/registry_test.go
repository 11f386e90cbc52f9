package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fintelli/pkg/errors"
)

func TestRegistryLoadAndRender(t *testing.T) {
	base := t.TempDir()
	agentDir := filepath.Join(base, "agents")
	if err := os.MkdirAll(agentDir, 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}

	tplPath := filepath.Join(agentDir, "social.tmpl")
	if err := os.WriteFile(tplPath, []byte("Analyse {{quote .Query}}\n"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	reg, err := NewRegistry(base)
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}

	rendered, err := reg.Render("agents/social", map[string]string{"Query": "mobile  money"})
	if err != nil {
		t.Fatalf("render template: %v", err)
	}
	if rendered != `Analyse "mobile money"` {
		t.Fatalf("unexpected render result: %s", rendered)
	}

	if err := os.WriteFile(tplPath, []byte("Changed {{.Query}}"), 0o644); err != nil {
		t.Fatalf("rewrite template: %v", err)
	}
	rendered, err = reg.Render("agents/social", map[string]string{"Query": "fees"})
	if err != nil {
		t.Fatalf("render after update: %v", err)
	}
	if rendered != `Analyse "fees"` {
		t.Fatalf("expected registry to keep the parsed content, got: %s", rendered)
	}
}

func TestRegistryLazyLoad(t *testing.T) {
	base := t.TempDir()
	reg, err := NewRegistry(base)
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}

	path := filepath.Join(base, "reports", "summary.tmpl")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("create dirs: %v", err)
	}
	if err := os.WriteFile(path, []byte("Health {{percent .Score}}"), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	rendered, err := reg.Render("reports/summary", map[string]float64{"Score": 0.72})
	if err != nil {
		t.Fatalf("render lazily loaded template: %v", err)
	}
	if rendered != "Health 72%" {
		t.Fatalf("unexpected render output: %s", rendered)
	}
}

func TestRegistryMissingTemplate(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("init registry: %v", err)
	}
	if _, err := reg.Render("agents/unknown", nil); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEmbeddedAgentTemplates(t *testing.T) {
	ids := Get().List()
	for _, want := range []string{"agents/competitor_analysis", "agents/market_sentiment", "agents/social_intelligence", "coordinator/daily_briefing"} {
		found := false
		for _, id := range ids {
			if id == want {
				found = true
			}
		}
		if !found {
			t.Errorf("embedded template %s missing, have %v", want, ids)
		}
	}

	tmpl, err := Get().GetTemplate("agents/social_intelligence")
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if !strings.Contains(tmpl.Content, `"sentiment_analysis"`) {
		t.Errorf("social prompt must ask for sentiment_analysis")
	}
}
