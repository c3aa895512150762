package httpstages

import (
	"errors"
	"testing"

	"github.com/dcshock/scrapepipe/pipeline"
)

func TestExpect(t *testing.T) {
	stage := Expect(func(v any) error {
		m, ok := v.(map[string]any)
		if !ok {
			return errors.New("not a map")
		}
		if m["status"] != "ok" {
			return errors.New("status not ok")
		}
		return nil
	})
	out, err := runStage(t, stage, map[string]any{"status": "ok"})
	if err != nil {
		t.Fatal(err)
	}
	if out[0].(map[string]any)["status"] != "ok" {
		t.Error("expected input passed through")
	}
}

func TestExpect_Fail(t *testing.T) {
	nope := errors.New("nope")
	_, err := runStage(t, Expect(func(v any) error { return nope }), nil)
	if !errors.Is(err, nope) || !errors.Is(err, ErrExpectation) {
		t.Fatalf("expected nope, got %v", err)
	}
}

func TestExpect_NilPredicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Expect(nil)
}

func TestExpectEqual(t *testing.T) {
	out, err := runStage(t, ExpectEqual(map[string]any{"a": float64(1)}), map[string]any{"a": float64(1)})
	if err != nil {
		t.Fatal(err)
	}
	if out[0] == nil {
		t.Error("expected input passed through")
	}
}

func TestExpectEqual_Fail(t *testing.T) {
	if _, err := runStage(t, ExpectEqual("expected"), "other"); err == nil {
		t.Fatal("expected error")
	}
}

func TestExpectField(t *testing.T) {
	positive := func(v any) error {
		if n, ok := v.(int); !ok || n <= 0 {
			return errors.New("not positive")
		}
		return nil
	}
	if _, err := runStage(t, ExpectField("count", positive), pipeline.NewRecord("count", 3)); err != nil {
		t.Fatal(err)
	}

	var missing *pipeline.MissingFieldError
	if _, err := runStage(t, ExpectField("count", positive), pipeline.NewRecord("other", 1)); !errors.As(err, &missing) {
		t.Errorf("missing field: got %v", err)
	}
	if _, err := runStage(t, ExpectField("count", positive), pipeline.NewRecord("count", -1)); !errors.Is(err, ErrExpectation) {
		t.Errorf("rejected field: got %v", err)
	}
	if _, err := runStage(t, ExpectField("count", positive), "plain"); err == nil {
		t.Error("expected error for a non-record value")
	}
}
