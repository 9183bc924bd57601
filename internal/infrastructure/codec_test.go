package infrastructure_test

import (
	"bytes"
	"testing"

	"github.com/agromesh/fieldsync/config"
	"github.com/agromesh/fieldsync/internal/infrastructure"
	"github.com/agromesh/fieldsync/model"
	"github.com/stretchr/testify/require"
)

func TestCodecEncode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		config       config.Compression
		payload      []byte
		wantEncoding string
	}{
		{
			name:         "repetitive payload above the floor is stored as brotli",
			config:       config.Compression{Enabled: true, Level: 5, MinSize: 64},
			payload:      bytes.Repeat([]byte("soil moisture reading 42.5;"), 50),
			wantEncoding: infrastructure.EncodingBrotli,
		},
		{
			name:         "payload below the floor is stored as-is",
			config:       config.Compression{Enabled: true, Level: 5, MinSize: 64},
			payload:      []byte(`{"field":"orchard-7"}`),
			wantEncoding: infrastructure.EncodingIdentity,
		},
		{
			name:         "compression disabled stores payloads as-is",
			config:       config.Compression{Enabled: false, Level: 5, MinSize: 0},
			payload:      bytes.Repeat([]byte("soil moisture reading 42.5;"), 50),
			wantEncoding: infrastructure.EncodingIdentity,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			codec := infrastructure.NewCodec(tc.config)

			data, encoding, sum := codec.Encode(tc.payload)

			require.Equal(t, tc.wantEncoding, encoding)

			decoded, err := codec.Decode(data, encoding, sum)
			require.NoError(t, err)
			require.Equal(t, tc.payload, decoded)
		})
	}
}

func TestCodecEncodeShrinksPayload(t *testing.T) {
	t.Parallel()

	codec := infrastructure.NewCodec(config.Compression{Enabled: true, Level: 5, MinSize: 64})
	payload := bytes.Repeat([]byte("pest scouting observation;"), 200)

	data, encoding, _ := codec.Encode(payload)

	require.Equal(t, infrastructure.EncodingBrotli, encoding)
	require.Less(t, len(data), len(payload))
}

func TestCodecDecode(t *testing.T) {
	t.Parallel()

	codec := infrastructure.NewCodec(config.Compression{Enabled: true, Level: 5, MinSize: 64})
	payload := bytes.Repeat([]byte("harvest batch 17;"), 100)
	data, encoding, sum := codec.Encode(payload)

	testCases := []struct {
		name     string
		data     []byte
		encoding string
		sum      uint64
		wantErr  error
	}{
		{
			name:     "round trip succeeds",
			data:     data,
			encoding: encoding,
			sum:      sum,
		},
		{
			name:     "empty encoding is treated as identity",
			data:     payload,
			encoding: "",
			sum:      sum,
		},
		{
			name:     "checksum mismatch is reported as corruption",
			data:     data,
			encoding: encoding,
			sum:      sum + 1,
			wantErr:  model.ErrCorruptRecord,
		},
		{
			name:     "truncated stream is reported as corruption",
			data:     data[:len(data)/2],
			encoding: encoding,
			sum:      sum,
			wantErr:  model.ErrCorruptRecord,
		},
		{
			name:     "unknown encoding is reported as corruption",
			data:     data,
			encoding: "zstd",
			sum:      sum,
			wantErr:  model.ErrCorruptRecord,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			decoded, err := codec.Decode(tc.data, tc.encoding, tc.sum)

			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, payload, decoded)
		})
	}
}
