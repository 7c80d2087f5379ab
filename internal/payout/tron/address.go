package tron

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	addressPrefix byte = 0x41
	addressLen         = 21
	checksumLen        = 4
)

var ErrInvalidAddress = errors.New("tron: invalid address")

// DecodeAddress turns a base58check TRON address (T...) into its 21-byte form.
func DecodeAddress(addr string) ([]byte, error) {
	addr = strings.TrimSpace(addr)
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, addr, err)
	}
	if len(raw) != addressLen+checksumLen {
		return nil, fmt.Errorf("%w: %q: decoded length %d", ErrInvalidAddress, addr, len(raw))
	}
	payload, sum := raw[:addressLen], raw[addressLen:]
	if !bytes.Equal(checksum(payload), sum) {
		return nil, fmt.Errorf("%w: %q: checksum mismatch", ErrInvalidAddress, addr)
	}
	if payload[0] != addressPrefix {
		return nil, fmt.Errorf("%w: %q: prefix 0x%02x", ErrInvalidAddress, addr, payload[0])
	}
	return payload, nil
}

// EncodeAddress is the inverse of DecodeAddress.
func EncodeAddress(payload []byte) (string, error) {
	if len(payload) != addressLen || payload[0] != addressPrefix {
		return "", fmt.Errorf("%w: %x", ErrInvalidAddress, payload)
	}
	full := append(append([]byte{}, payload...), checksum(payload)...)
	return base58.Encode(full), nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
