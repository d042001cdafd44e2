package projector

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
	serrors "github.com/sysview/sysview/internal/errors"
)

const checksumSize = 8

// Operations a cursor can resume.
const (
	opScan  = "scan"
	opQuery = "query"
)

// cursor is the resume position of a paginated read. It travels to the
// caller and back as an opaque string and is never stored server-side.
type cursor struct {
	Source   string `json:"s"`
	Op       string `json:"o"`
	Keyspace string `json:"k"`
	Table    string `json:"t,omitempty"`
	Column   string `json:"c,omitempty"`

	// Row is the ordinal of the last returned row of a data table.
	Row int `json:"r,omitempty"`
}

// encodeCursor serializes a cursor as base64url(snappy(json) || murmur3).
func encodeCursor(c cursor) string {
	payload, _ := json.Marshal(c)
	compressed := snappy.Encode(nil, payload)

	buf := make([]byte, len(compressed)+checksumSize)
	copy(buf, compressed)
	binary.BigEndian.PutUint64(buf[len(compressed):], murmur3.Sum64(compressed))
	return base64.RawURLEncoding.EncodeToString(buf)
}

// decodeCursor parses a cursor produced by encodeCursor and checks that it
// was issued for the given source and operation. An empty token yields nil.
func decodeCursor(token, source, op string) (*cursor, error) {
	if token == "" {
		return nil, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= checksumSize {
		return nil, invalidCursor()
	}
	compressed := raw[:len(raw)-checksumSize]
	if binary.BigEndian.Uint64(raw[len(compressed):]) != murmur3.Sum64(compressed) {
		return nil, invalidCursor()
	}
	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, invalidCursor()
	}

	var c cursor
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, invalidCursor()
	}
	if c.Source != source || c.Op != op || c.Keyspace == "" {
		return nil, invalidCursor()
	}
	return &c, nil
}

func invalidCursor() error {
	return serrors.NewValidationError(serrors.CodeInvalidCursor, "The provided starting key is invalid")
}
