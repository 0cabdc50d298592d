// Package codec implements the deterministic binary encoding of SubRAV
// records (spec §4.1). Encoding is total; decoding rejects malformed or
// oversized input with errs.CodecMalformed.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/nuwa-protocol/nuwa-go/pkg/errs"
	"github.com/nuwa-protocol/nuwa-go/pkg/model"
)

// maxAmountBytes bounds accumulatedAmount to a u256 (32 bytes), matching
// the on-chain field width.
const maxAmountBytes = 32

// Encode serializes a SubRAV using the canonical field order and widths:
// version:u8, chainId:u64, channelId:bytes32, channelEpoch:u64,
// vmIdFragment:utf8 (length-prefixed u16), accumulatedAmount:u256,
// nonce:u64.
func Encode(r model.SubRAV) []byte {
	frag := []byte(r.VMIDFragment)
	buf := make([]byte, 0, 1+8+32+8+2+len(frag)+maxAmountBytes+8)

	buf = append(buf, r.Version)
	buf = appendU64(buf, r.ChainID)
	buf = append(buf, r.ChannelID[:]...)
	buf = appendU64(buf, r.ChannelEpoch)
	buf = appendU16(buf, uint16(len(frag)))
	buf = append(buf, frag...)
	buf = append(buf, amountToBytes(r.AccumulatedAmount)...)
	buf = appendU64(buf, r.Nonce)
	return buf
}

// Decode parses the canonical encoding produced by Encode. It fails with
// errs.CodecMalformed on truncated input, a length-prefix mismatch, or an
// accumulatedAmount wider than 32 bytes.
func Decode(b []byte) (model.SubRAV, error) {
	var r model.SubRAV

	if len(b) < 1+8+32+8+2 {
		return r, errs.New(errs.CodecMalformed, "subrav: truncated header")
	}
	off := 0

	r.Version = b[off]
	off++

	r.ChainID = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	copy(r.ChannelID[:], b[off:off+32])
	off += 32

	r.ChannelEpoch = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	fragLen := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if off+fragLen > len(b) {
		return model.SubRAV{}, errs.New(errs.CodecMalformed, "subrav: fragment length exceeds buffer")
	}
	r.VMIDFragment = string(b[off : off+fragLen])
	off += fragLen

	if off+maxAmountBytes+8 > len(b) {
		return model.SubRAV{}, errs.New(errs.CodecMalformed, "subrav: truncated amount/nonce")
	}
	r.AccumulatedAmount = new(big.Int).SetBytes(b[off : off+maxAmountBytes])
	off += maxAmountBytes

	r.Nonce = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	if off != len(b) {
		return model.SubRAV{}, errs.New(errs.CodecMalformed, "subrav: trailing bytes")
	}
	return r, nil
}

// amountToBytes renders v as a 32-byte big-endian word. A nil amount
// encodes as zero.
func amountToBytes(v *big.Int) []byte {
	out := make([]byte, maxAmountBytes)
	if v == nil {
		return out
	}
	b := v.Bytes()
	if len(b) > maxAmountBytes {
		// Callers are expected to validate amounts before encoding; Encode
		// is total, so we truncate to the low-order bytes rather than panic.
		b = b[len(b)-maxAmountBytes:]
	}
	copy(out[maxAmountBytes-len(b):], b)
	return out
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

// ToHex renders b as a lowercase hex string, without a "0x" prefix.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// FromHex parses a hex string (with or without a leading "0x") back to bytes.
func FromHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errs.Wrap(errs.CodecMalformed, "invalid hex string", err)
	}
	return b, nil
}
