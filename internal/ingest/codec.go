package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/roman-kulish/plant-telemetry/internal/telemetry"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

var (
	// ErrNoData is returned for an absent, empty or null batch
	ErrNoData = errors.New("no data")

	// ErrTooLarge is returned when the decoded body exceeds the configured limit
	ErrTooLarge = errors.New("payload too large")
)

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error

	cborEnc, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ingest: CBOR encoder initialization failed: " + err.Error())
	}

	cborDec, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("ingest: CBOR decoder initialization failed: " + err.Error())
	}
}

// codec encodes and decodes one media type
type codec struct {
	contentType string
	unmarshal   func([]byte, any) error
	marshal     func(any) ([]byte, error)
}

var (
	jsonCodec = codec{contentType: ContentTypeJSON, unmarshal: json.Unmarshal, marshal: json.Marshal}
	cborCodec = codec{
		contentType: ContentTypeCBOR,
		unmarshal:   func(p []byte, v any) error { return cborDec.Unmarshal(p, v) },
		marshal:     func(v any) ([]byte, error) { return cborEnc.Marshal(v) },
	}
)

// codecFor picks the codec from a Content-Type header. Anything other than
// CBOR is treated as JSON, which is what the device firmware sends.
func codecFor(contentType string) codec {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == ContentTypeCBOR {
		return cborCodec
	}
	return jsonCodec
}

// decompress wraps body according to a Content-Encoding header.
func decompress(body io.Reader, contentEncoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return io.NopCloser(body), nil

	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return zr, nil

	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("opening zstd stream: %w", err)
		}
		return zr.IOReadCloser(), nil

	case "lz4":
		return io.NopCloser(lz4.NewReader(body)), nil

	default:
		return nil, fmt.Errorf("unsupported content encoding %q", contentEncoding)
	}
}

// readBody reads at most limit decoded bytes.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	p, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(p)) > limit {
		return nil, ErrTooLarge
	}
	return p, nil
}

// decodeBatch parses and validates a batch. Every sample must carry all fields.
func decodeBatch(c codec, p []byte) ([]telemetry.Sample, error) {
	if len(bytes.TrimSpace(p)) == 0 {
		return nil, ErrNoData
	}

	var batch []telemetry.Sample
	if err := c.unmarshal(p, &batch); err != nil {
		return nil, fmt.Errorf("decoding batch: %w", err)
	}
	if len(batch) == 0 {
		return nil, ErrNoData
	}

	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	return batch, nil
}
