// Package serialization encodes checkpoint blobs for the stores
// PRINCIPLES:
// - KISS: Simple interface with multiple codec implementations
// - DRY: Reusable across all checkpoint store implementations
// - Deterministic: equal values always encode to equal bytes
package serialization

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrUnknownCodec       = errors.New("unknown codec")
	ErrUnknownCompression = errors.New("unknown compression")
	ErrInvalidKey         = errors.New("encryption key must be 16, 24 or 32 bytes")
	ErrCorruptBlob        = errors.New("corrupt blob")
)

// Codec interface for serialization
// PRINCIPLES:
// - ISP: Simple interface with ≤5 methods
// - SRP: Single responsibility for serialization
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// CompressionType represents compression algorithms
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// ParseCompression maps a configuration string to a CompressionType. The
// empty string means none.
func ParseCompression(s string) (CompressionType, error) {
	switch c := CompressionType(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionGzip, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// SerializationConfig holds serialization settings
type SerializationConfig struct {
	Codec       Codec
	Compression CompressionType
	EncryptKey  []byte // AES key (16, 24 or 32 bytes)
}

// blob header: magic, codec id, compression id
const headerMagic byte = 0xf6

var (
	codecIDs       = map[string]byte{"json": 'j', "msgpack": 'm'}
	compressionIDs = map[CompressionType]byte{CompressionNone: 'n', CompressionGzip: 'g', CompressionZstd: 'z'}
)

// Serializer provides complete serialization with compression and encryption.
// Every blob carries a small header naming its codec and compression, so a
// store can read blobs written under an earlier configuration.
type Serializer struct {
	config SerializationConfig
	aead   cipher.AEAD
}

// NewSerializer creates a new serializer with configuration
func NewSerializer(config SerializationConfig) (*Serializer, error) {
	if config.Codec == nil {
		config.Codec = NewMsgPackCodec()
	}
	if _, ok := codecIDs[config.Codec.Name()]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, config.Codec.Name())
	}
	if config.Compression == "" {
		config.Compression = CompressionNone
	}
	if _, ok := compressionIDs[config.Compression]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, config.Compression)
	}
	s := &Serializer{config: config}
	if len(config.EncryptKey) > 0 {
		block, err := aes.NewCipher(config.EncryptKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		if s.aead, err = cipher.NewGCM(block); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSerializer is NewSerializer that panics on a bad configuration.
func MustSerializer(config SerializationConfig) *Serializer {
	s, err := NewSerializer(config)
	if err != nil {
		panic(err)
	}
	return s
}

// DefaultSerializer creates a serializer with sensible defaults
func DefaultSerializer() *Serializer {
	return MustSerializer(SerializationConfig{
		Codec:       NewMsgPackCodec(),
		Compression: CompressionZstd,
	})
}

// Codec returns the configured codec.
func (s *Serializer) Codec() Codec { return s.config.Codec }

// Serialize encodes, compresses, and encrypts data
func (s *Serializer) Serialize(v any) ([]byte, error) {
	data, err := s.config.Codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("codec encoding failed: %w", err)
	}

	data, err = compress(s.config.Compression, data)
	if err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}

	if s.aead != nil {
		data, err = s.encrypt(data)
		if err != nil {
			return nil, fmt.Errorf("encryption failed: %w", err)
		}
	}

	header := []byte{headerMagic, codecIDs[s.config.Codec.Name()], compressionIDs[s.config.Compression]}
	return append(header, data...), nil
}

// Deserialize decrypts, decompresses, and decodes data
func (s *Serializer) Deserialize(data []byte, v any) error {
	if len(data) < 3 || data[0] != headerMagic {
		return fmt.Errorf("%w: missing header", ErrCorruptBlob)
	}
	codec, err := codecByID(data[1])
	if err != nil {
		return err
	}
	compression, err := compressionByID(data[2])
	if err != nil {
		return err
	}
	data = data[3:]

	if s.aead != nil {
		data, err = s.decrypt(data)
		if err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
	}

	data, err = decompress(compression, data)
	if err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}

	if err := codec.Decode(data, v); err != nil {
		return fmt.Errorf("codec decoding failed: %w", err)
	}
	return nil
}

func codecByID(id byte) (Codec, error) {
	for name, cid := range codecIDs {
		if cid == id {
			return CodecByName(name)
		}
	}
	return nil, fmt.Errorf("%w: codec id %q", ErrCorruptBlob, id)
}

func compressionByID(id byte) (CompressionType, error) {
	for c, cid := range compressionIDs {
		if cid == id {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: compression id %q", ErrCorruptBlob, id)
}

func compress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func decompress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and one
// decoder serve the whole process.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) { return zstd.NewWriter(nil) })
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) { return zstd.NewReader(nil) })
)

// encrypt encrypts data using AES-GCM
func (s *Serializer) encrypt(data []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, data, nil), nil
}

// decrypt decrypts data using AES-GCM
func (s *Serializer) decrypt(data []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("invalid ciphertext size")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return s.aead.Open(nil, nonce, ciphertext, nil)
}

// JSONCodec implements JSON serialization
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

// MsgPackCodec implements MessagePack serialization. Map keys are sorted and
// integers use their most compact form, so the same logical value always
// produces the same bytes; interface values decode to int64, uint64, float64,
// string, []any and map[string]any.
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *MsgPackCodec) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (c *MsgPackCodec) Name() string {
	return "msgpack"
}

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() Codec {
	return &JSONCodec{}
}

// NewMsgPackCodec creates a new MessagePack codec
func NewMsgPackCodec() Codec {
	return &MsgPackCodec{}
}

// CodecByName resolves "json" or "msgpack". The empty name means msgpack.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return NewMsgPackCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Fingerprint returns a hex digest of the canonical msgpack encoding of v.
// Logically equal values yield equal fingerprints regardless of the concrete
// integer types they hold.
func Fingerprint(v any) (string, error) {
	data, err := (&MsgPackCodec{}).Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
