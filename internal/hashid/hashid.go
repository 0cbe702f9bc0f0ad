package hashid

import (
	"fmt"

	hashids "github.com/speps/go-hashids/v2"
)

// Codec encodes internal form ids into stable external identifiers
// that don't look like sequential integers. The encoding is
// reversible; it is presentation, not security.
type Codec struct {
	h *hashids.HashID
}

// NewCodec creates a codec with the service-wide salt. The alphabet
// and minimum length are fixed so existing external ids stay valid.
func NewCodec(salt string) (*Codec, error) {
	hd := hashids.NewData()
	hd.Alphabet = "abcdefghijklmnopqrstuvwxyz"
	hd.MinLength = 8
	hd.Salt = salt

	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("failed to build hashid codec: %w", err)
	}
	return &Codec{h: h}, nil
}

// Encode returns the external identifier for a form id
func (c *Codec) Encode(id uint) (string, error) {
	s, err := c.h.EncodeInt64([]int64{int64(id)})
	if err != nil {
		return "", fmt.Errorf("failed to encode id %d: %w", id, err)
	}
	return s, nil
}

// Decode returns the form id for an external identifier, or an error
// if the string is not a valid encoding
func (c *Codec) Decode(hashid string) (uint, error) {
	ids, err := c.h.DecodeInt64WithError(hashid)
	if err != nil {
		return 0, fmt.Errorf("invalid form identifier %q: %w", hashid, err)
	}
	if len(ids) == 0 || ids[0] < 0 {
		return 0, fmt.Errorf("invalid form identifier %q", hashid)
	}
	return uint(ids[0]), nil
}
