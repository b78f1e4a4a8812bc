package workers

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/aescanero/taskmesh/pkg/domain"
)

// Fingerprint derives the cache and coalescing key for a capability call.
//
// The input is canonicalized by a JSON round trip so object keys come out
// sorted regardless of how the payload was built. Each component is
// length-prefixed before hashing.
func Fingerprint(capability string, input domain.Input) (string, error) {
	canonical, err := canonicalJSON(input)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize input: %w", err)
	}

	h := sha256.New()
	writeField := func(data []byte) {
		var length [8]byte
		binary.BigEndian.PutUint64(length[:], uint64(len(data)))
		h.Write(length[:])
		h.Write(data)
	}
	writeField([]byte(capability))
	writeField(canonical)

	return capability + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}
