package httpstages

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/dcshock/scrapepipe/pipeline"
)

// bodyOf accepts the forms a response body travels in between stages.
func bodyOf(input any) ([]byte, error) {
	switch v := input.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("want a []byte or string body, got %T", input)
}

// ParseJSON decodes a body into generic JSON values: objects become
// map[string]any, numbers float64. A zero-length body yields an empty map so
// endpoints answering 204 still produce a value.
func ParseJSON() pipeline.Stage {
	return pipeline.Transform("parse_json", func(ctx context.Context, input any) (any, error) {
		body, err := bodyOf(input)
		if err != nil {
			return nil, fmt.Errorf("parse_json: %w", err)
		}
		if len(body) == 0 {
			return map[string]any{}, nil
		}
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("parse_json: %w", err)
		}
		return v, nil
	})
}

// ParseJSONTo decodes a body into a fresh T and emits the *T.
func ParseJSONTo[T any]() pipeline.Stage {
	return pipeline.Transform("parse_json", func(ctx context.Context, input any) (any, error) {
		body, err := bodyOf(input)
		if err != nil {
			return nil, fmt.Errorf("parse_json: %w", err)
		}
		dst := new(T)
		if err := json.Unmarshal(body, dst); err != nil {
			return nil, fmt.Errorf("parse_json into %T: %w", dst, err)
		}
		return dst, nil
	})
}

// ToRecords returns a stage that turns decoded JSON into records: an object
// becomes one record, an array yields one record per object element. Keys
// are ordered alphabetically.
func ToRecords() pipeline.Stage {
	return pipeline.FlatMap("to_records", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			switch v := input.(type) {
			case map[string]any:
				yield(pipeline.RecordFromMap(v), nil)
			case []any:
				for i, e := range v {
					m, ok := e.(map[string]any)
					if !ok {
						yield(nil, fmt.Errorf("to_records: element %d is %T, not an object", i, e))
						return
					}
					if !yield(pipeline.RecordFromMap(m), nil) {
						return
					}
				}
			default:
				yield(nil, fmt.Errorf("to_records: input must be a JSON object or array, got %T", input))
			}
		}
	})
}
