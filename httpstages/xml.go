package httpstages

import (
	"context"
	"fmt"

	"github.com/clbanning/mxj/v2"
	"github.com/dcshock/scrapepipe/pipeline"
)

// ParseXML returns a stage that decodes an XML document ([]byte or string)
// into nested maps: element names become keys, attributes are prefixed with
// "-" and repeated elements become slices. Output is map[string]any.
func ParseXML() pipeline.Stage {
	return pipeline.Transform("parse_xml", func(ctx context.Context, input any) (any, error) {
		raw, err := bodyOf(input)
		if err != nil {
			return nil, fmt.Errorf("parsexml: %w", err)
		}
		m, err := mxj.NewMapXml(raw)
		if err != nil {
			return nil, fmt.Errorf("parsexml: %w", err)
		}
		return map[string]any(m), nil
	})
}
