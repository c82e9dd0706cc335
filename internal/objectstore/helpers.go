package objectstore

import (
	"bytes"
	"io"
)

// newReadSeeker adapts a byte slice to the io.ReadSeeker PutObject
// requires for content-length computation and retries.
func newReadSeeker(body []byte) io.ReadSeeker {
	return bytes.NewReader(body)
}
