package httpstages

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/dcshock/scrapepipe/pipeline"
)

// ErrExpectation wraps every failure reported by the expect stages.
var ErrExpectation = errors.New("expectation failed")

// Expect fails the run when check rejects a value and passes accepted values
// on untouched. It typically follows ParseJSON to guard a status field.
func Expect(check func(any) error) pipeline.Stage {
	if check == nil {
		panic("httpstages.Expect: nil check")
	}
	return pipeline.Transform("expect", func(ctx context.Context, v any) (any, error) {
		if err := check(v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrExpectation, err)
		}
		return v, nil
	})
}

// ExpectEqual compares each value with want by deep equality.
func ExpectEqual(want any) pipeline.Stage {
	return Expect(func(got any) error {
		if reflect.DeepEqual(got, want) {
			return nil
		}
		return fmt.Errorf("value %#v differs from %#v", got, want)
	}).Named("expect_equal")
}

// ExpectField applies check to one field of a record. A missing field or a
// non-record value fails the run.
func ExpectField(key string, check func(any) error) pipeline.Stage {
	if check == nil {
		panic("httpstages.ExpectField: nil check")
	}
	return Expect(func(v any) error {
		rec, ok := v.(*pipeline.Record)
		if !ok {
			return fmt.Errorf("want *pipeline.Record, got %T", v)
		}
		fv, err := rec.Require(key)
		if err != nil {
			return err
		}
		if err := check(fv); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		return nil
	}).Named("expect_field")
}
