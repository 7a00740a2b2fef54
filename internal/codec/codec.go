// Package codec implements the keyed-store result pipeline: a compact
// binary structural encoding of the typed success value, followed by
// LZMA compression, matching spec §4.4. Payloads above
// inMemoryThreshold are streamed through a scratch file instead of
// being held fully in memory.
package codec

import (
	"bytes"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/ulikunitz/xz"

	"github.com/oriys/brew/internal/shoperr"
)

// dictCap approximates the original's LZMA window size of 2^22 bytes.
const dictCap = 1 << 22

// inMemoryThreshold is the size above which Encode streams through a
// ScratchDir-backed temp file instead of an in-memory buffer.
const inMemoryThreshold = 1 << 20 // 1 MiB

var cborMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(err) // static options; cannot fail
	}
	return mode
}()

func xzWriterConfig() xz.WriterConfig {
	return xz.WriterConfig{DictCap: dictCap}
}

// Encode serializes v with a structural binary encoding and compresses
// the result with LZMA. It does not enforce a size limit; callers that
// need one (the work-queue adapter, per spec §4.2) use EncodeWithLimit.
func Encode(v any) ([]byte, error) {
	structural, err := cborMode.Marshal(v)
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryConversion, err, "structural encode failed")
	}

	var out bytes.Buffer
	cfg := xzWriterConfig()
	w, err := cfg.NewWriter(&out)
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryCompression, err, "open compressor")
	}
	if _, err := w.Write(structural); err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryCompression, err, "compress payload")
	}
	if err := w.Close(); err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryCompression, err, "finish compression")
	}
	return out.Bytes(), nil
}

// EncodeWithLimit is Encode, but fails with KindBase64EncodingOversize
// once the compressed output would exceed limit bytes. The name
// mirrors the original's distinction between "payload oversize" and a
// generic compression failure.
func EncodeWithLimit(v any, limit int) ([]byte, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, shoperr.New(shoperr.KindBase64EncodingOversize, "encoded payload is %d bytes, limit is %d", len(data), limit)
	}
	return data, nil
}

// Decode reverses Encode into out (a pointer). Every failure, whether
// corrupt input or a decompressor memory/resource limit, surfaces as
// KindBinaryConversion; the two cases are not distinguished by Kind.
func Decode(data []byte, out any) error {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return shoperr.Wrap(shoperr.KindBinaryConversion, err, "open decompressor")
	}
	structural, err := io.ReadAll(r)
	if err != nil {
		return shoperr.Wrap(shoperr.KindBinaryConversion, err, "decompress payload")
	}
	if err := cbor.Unmarshal(structural, out); err != nil {
		return shoperr.Wrap(shoperr.KindBinaryConversion, err, "structural decode failed")
	}
	return nil
}

// EncodeSpillable is Encode, but for inputs whose structural encoding
// exceeds inMemoryThreshold it streams the compression stage through a
// ScratchDir-backed temp file rather than buffering the compressed
// output fully in memory. It returns the final compressed bytes either
// way; the spill is an implementation detail of how the bytes were
// produced, per the "spill-to-disk writer" design note.
func EncodeSpillable(dir *ScratchDir, v any) ([]byte, error) {
	structural, err := cborMode.Marshal(v)
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryConversion, err, "structural encode failed")
	}
	if len(structural) <= inMemoryThreshold || dir == nil {
		return Encode(v)
	}

	buf, err := dir.NewBuffer()
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindTempFileAccess, err, "create scratch buffer")
	}
	defer buf.Close()

	cfg := xzWriterConfig()
	w, err := cfg.NewWriter(buf)
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryCompression, err, "open compressor")
	}
	if _, err := w.Write(structural); err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryCompression, err, "compress payload")
	}
	if err := w.Close(); err != nil {
		return nil, shoperr.Wrap(shoperr.KindBinaryCompression, err, "finish compression")
	}

	reader, err := buf.Reopen()
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindTempFileAccess, err, "reopen scratch buffer for read")
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, shoperr.Wrap(shoperr.KindTempFileAccess, err, "read scratch buffer")
	}
	return data, nil
}
