package httpstages

import (
	"reflect"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/dcshock/scrapepipe/pipeline"
)

const eventsPage = `<html><body>
<ul id="events">
  <li><a class="event" href="/e/1"> Jazz night </a></li>
  <li><a class="event" href="/e/2">Poetry slam</a></li>
  <li><a class="event">   </a></li>
</ul>
</body></html>`

func TestParseHTML(t *testing.T) {
	out, err := runStage(t, ParseHTML(), eventsPage)
	if err != nil {
		t.Fatal(err)
	}
	doc, ok := out[0].(*goquery.Document)
	if !ok {
		t.Fatalf("expected *goquery.Document, got %T", out[0])
	}
	if n := doc.Find("a.event").Length(); n != 3 {
		t.Errorf("found %d links", n)
	}
}

func TestSelectTextAndAttr(t *testing.T) {
	texts, err := runStages(t, nil, pipeline.Values(eventsPage), ParseHTML(), SelectText("a.event"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(texts, []any{"Jazz night", "Poetry slam"}) {
		t.Errorf("texts: %v", texts)
	}

	hrefs, err := runStages(t, nil, pipeline.Values([]byte(eventsPage)), ParseHTML(), SelectAttr("a.event", "href"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(hrefs, []any{"/e/1", "/e/2"}) {
		t.Errorf("hrefs: %v", hrefs)
	}
}

func TestSelectText_WrongInput(t *testing.T) {
	if _, err := runStage(t, SelectText("a"), "not a document"); err == nil {
		t.Error("expected type error")
	}
}
