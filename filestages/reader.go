package filestages

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// readerOf accepts the textual inputs shared by the stages of this package:
// an io.Reader, []byte or a string holding the content itself.
func readerOf(input any) (io.Reader, error) {
	switch v := input.(type) {
	case io.Reader:
		return v, nil
	case []byte:
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	}
	return nil, fmt.Errorf("input must be io.Reader, []byte or string, got %T", input)
}
