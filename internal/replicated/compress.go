package replicated

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// compressObject compresses a serialized user object for the wire
// format state transfer uses (spec §4.5 "compact wire format"),
// grounded on the teacher's internal/sync CompressSnapshot/
// DecompressSnapshot, generalized from "DAG snapshot bytes" to "one
// replicated object's serialized bytes".
func compressObject(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// decompressObject reverses compressObject.
func decompressObject(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
