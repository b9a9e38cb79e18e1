package webhook

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBody is the request body ceiling applied when none is configured.
const DefaultMaxBody int64 = 1 << 20

var ErrPayloadTooLarge = errors.New("payload too large")

// ReadRawBody reads at most limit bytes from r and returns them untouched.
// Signatures are computed over these bytes, so nothing is parsed here.
func ReadRawBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, ErrPayloadTooLarge
		}
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(b)) > limit {
		return nil, ErrPayloadTooLarge
	}
	return b, nil
}
