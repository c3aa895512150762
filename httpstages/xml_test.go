package httpstages

import (
	"testing"
)

func TestParseXML(t *testing.T) {
	doc := `<rss version="2.0"><channel><title>City events</title>
<item><title>One</title></item><item><title>Two</title></item></channel></rss>`
	out, err := runStage(t, ParseXML(), doc)
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out[0].(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", out[0])
	}
	rss := m["rss"].(map[string]any)
	if rss["-version"] != "2.0" {
		t.Errorf("attribute: %v", rss["-version"])
	}
	channel := rss["channel"].(map[string]any)
	if channel["title"] != "City events" {
		t.Errorf("title: %v", channel["title"])
	}
	if items, ok := channel["item"].([]any); !ok || len(items) != 2 {
		t.Errorf("items: %#v", channel["item"])
	}
}

func TestParseXML_Invalid(t *testing.T) {
	if _, err := runStage(t, ParseXML(), ""); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := runStage(t, ParseXML(), 1); err == nil {
		t.Error("expected error for non-text input")
	}
}
