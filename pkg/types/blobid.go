package types

import (
	"crypto/sha1"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// BlobID identifies a scanned buffer by content: the Git blob hash,
// SHA-1("blob " + len + "\x00" + content).
type BlobID [sha1.Size]byte

// ComputeBlobID hashes content the way `git hash-object` does.
func ComputeBlobID(content []byte) BlobID {
	h := sha1.New()
	h.Write([]byte("blob "))
	h.Write([]byte(strconv.Itoa(len(content))))
	h.Write([]byte{0})
	h.Write(content)

	var id BlobID
	h.Sum(id[:0])
	return id
}

// Hex returns the 40-character lowercase hex form.
func (id BlobID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id BlobID) String() string {
	return id.Hex()
}

// IsZero reports whether the ID is unset.
func (id BlobID) IsZero() bool {
	return id == BlobID{}
}

// ParseBlobID parses the hex form produced by Hex.
func ParseBlobID(s string) (BlobID, error) {
	var id BlobID
	if len(s) != hex.EncodedLen(len(id)) {
		return id, fmt.Errorf("invalid blob ID length: expected %d, got %d", hex.EncodedLen(len(id)), len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return BlobID{}, fmt.Errorf("invalid hex string: %w", err)
	}
	return id, nil
}

// MarshalJSON encodes the ID as a hex string.
func (id BlobID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

// UnmarshalJSON decodes a hex string.
func (id *BlobID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBlobID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value implements driver.Valuer.
func (id BlobID) Value() (driver.Value, error) {
	return id.Hex(), nil
}

// Scan implements sql.Scanner.
func (id *BlobID) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return fmt.Errorf("cannot scan nil into BlobID")
	default:
		return fmt.Errorf("cannot scan type %T into BlobID", src)
	}
	parsed, err := ParseBlobID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
