package anonymizer

import "fmt"

// DecodeError reports a file that could not be handled as text (binary
// content behind a text extension, or invalid encoding). The file is
// skipped; the run continues.
type DecodeError struct {
	Path   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s as text: %s", e.Path, e.Reason)
}
