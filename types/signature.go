package types

import (
	"bytes"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/status-im/keycard-custody/apdu"
)

var (
	TagSignatureTemplate = uint8(0xA0)
	TagRawSignature      = uint8(0x80)
)

var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrRecoveryIDNotFound = errors.New("no recovery id matches the card public key")
)

type Signature struct {
	pubKey []byte
	r      []byte
	s      []byte
	v      byte
}

func ParseSignature(message, resp []byte) (*Signature, error) {
	// check for old template first because TagRawSignature matches the pubkey tag
	template, err := apdu.FindTag(resp, TagSignatureTemplate)
	if err == nil {
		return parseLegacySignature(message, template)
	}

	sig, err := apdu.FindTag(resp, TagRawSignature)
	if err != nil {
		return nil, err
	}

	return ParseRecoverableSignature(message, sig)
}

func ParseRecoverableSignature(message, sig []byte) (*Signature, error) {
	if len(sig) != 65 {
		return nil, ErrInvalidSignature
	}

	pubKey, err := crypto.Ecrecover(message, sig)
	if err != nil {
		return nil, err
	}

	return &Signature{
		pubKey: pubKey,
		r:      sig[0:32],
		s:      sig[32:64],
		v:      sig[64],
	}, nil
}

func DERSignatureToRS(tlv []byte) ([]byte, []byte, error) {
	r, err := apdu.FindTagN(tlv, 0, 0x30, 0x02)
	if err != nil {
		return nil, nil, err
	}

	s, err := apdu.FindTagN(tlv, 1, 0x30, 0x02)
	if err != nil {
		return nil, nil, err
	}

	return normalizeScalar(r), normalizeScalar(s), nil
}

func (s *Signature) PubKey() []byte {
	return s.pubKey
}

func (s *Signature) R() []byte {
	return s.r
}

func (s *Signature) S() []byte {
	return s.s
}

func (s *Signature) V() byte {
	return s.v
}

// Bytes returns the signature in the 65 bytes [R || S || V] format.
func (s *Signature) Bytes() []byte {
	out := make([]byte, 0, 65)
	out = append(out, s.r...)
	out = append(out, s.s...)
	return append(out, s.v)
}

func parseLegacySignature(message, template []byte) (*Signature, error) {
	pubKey, err := apdu.FindTag(template, 0x80)
	if err != nil {
		return nil, err
	}

	r, s, err := DERSignatureToRS(template)
	if err != nil {
		return nil, err
	}

	v, err := calculateV(message, pubKey, r, s)
	if err != nil {
		return nil, err
	}

	return &Signature{
		pubKey: pubKey,
		r:      r,
		s:      s,
		v:      v,
	}, nil
}

// DER integers carry a leading zero when the high bit is set and drop leading zeros otherwise.
func normalizeScalar(b []byte) []byte {
	if len(b) > 32 {
		return b[len(b)-32:]
	}

	return common.LeftPadBytes(b, 32)
}

func calculateV(message, pubKey, r, s []byte) (byte, error) {
	rs := make([]byte, 0, 65)
	rs = append(rs, r...)
	rs = append(rs, s...)

	for v := byte(0); v < 4; v++ {
		rec, err := crypto.Ecrecover(message, append(rs, v))
		if err != nil {
			continue
		}

		if len(pubKey) == 33 {
			rec = compressPublicKey(rec)
		}

		if bytes.Equal(pubKey, rec) {
			return v, nil
		}
	}

	return 0, ErrRecoveryIDNotFound
}

func compressPublicKey(pubKey []byte) []byte {
	if len(pubKey) == 33 {
		return pubKey
	}

	out := make([]byte, 33)
	copy(out[1:], pubKey[1:33])
	if (pubKey[64] & 1) == 1 {
		out[0] = 3
	} else {
		out[0] = 2
	}

	return out
}
