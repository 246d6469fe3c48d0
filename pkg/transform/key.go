package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/agentpkg/tsx/pkg/store"
)

// keySchema is bumped whenever the layout of cached output changes.
const keySchema = "tsx-transform-v1"

// Key identifies a transform. Equal keys always yield equal output.
type Key string

// NewKey derives the key for transforming source (a file with extension
// ext) into format with opts using the named engine. The file location is
// deliberately not part of the key.
func NewKey(engine string, source []byte, ext string, format Format, opts Options) Key {
	optsJSON, _ := json.Marshal(opts)

	h := sha256.New()
	for _, part := range []string{
		keySchema,
		engine,
		store.HashBytes(source),
		strings.ToLower(ext),
		string(format),
		string(optsJSON),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return Key(hex.EncodeToString(h.Sum(nil)))
}
