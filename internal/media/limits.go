package media

import (
	"fmt"
	"io"
)

// MaxPhotoBytes is the largest accepted inbound photo. WhatsApp caps images at 16 MiB.
const MaxPhotoBytes int64 = 16 * 1024 * 1024

func checkSize(size, max int64) error {
	if size > max {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrAssetTooLarge, size, max)
	}
	return nil
}

// readBounded reads r fully, failing once more than max bytes arrive.
func readBounded(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if err := checkSize(int64(len(data)), max); err != nil {
		return nil, err
	}
	return data, nil
}
