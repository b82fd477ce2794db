// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/hkdf"
)

const (
	// obfuscationPrefix marks a value written by Obfuscator.Conceal.
	obfuscationPrefix = "obf1:"

	obfuscationSalt = "beacon-store-obfuscation"
	obfuscationInfo = "record-mask-v1"

	// defaultObfuscationSecret is used when no key is configured.
	defaultObfuscationSecret = "beacon"

	obfuscationKeySize = 64
)

// Obfuscator masks serialized records so they are not readable at a glance
// in the data directory.
//
// This is NOT encryption. The mask is a repeating XOR keystream derived with
// HKDF from a configured secret, and anyone holding the binary or the config
// can reverse it. Do not rely on it for confidentiality.
type Obfuscator struct {
	key []byte
}

// NewObfuscator derives the mask from secret. An empty secret uses a built-in default.
func NewObfuscator(secret string) *Obfuscator {
	if secret == "" {
		secret = defaultObfuscationSecret
	}

	r := hkdf.New(sha256.New, []byte(secret), []byte(obfuscationSalt), []byte(obfuscationInfo))
	key := make([]byte, obfuscationKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes; 64 never fails
		panic("store: derive obfuscation key: " + err.Error())
	}
	return &Obfuscator{key: key}
}

// Conceal masks data and prepends the obfuscation marker.
func (o *Obfuscator) Conceal(data []byte) []byte {
	masked := o.xor(data)
	out := make([]byte, len(obfuscationPrefix)+base64.StdEncoding.EncodedLen(len(masked)))
	copy(out, obfuscationPrefix)
	base64.StdEncoding.Encode(out[len(obfuscationPrefix):], masked)
	return out
}

// Reveal reverses Conceal. When data does not carry the marker, does not decode,
// or does not unmask to valid JSON, data is returned unchanged with ok=false so
// callers can treat it as an unmasked record.
func (o *Obfuscator) Reveal(data []byte) (out []byte, ok bool) {
	if !bytes.HasPrefix(data, []byte(obfuscationPrefix)) {
		return data, false
	}

	encoded := data[len(obfuscationPrefix):]
	masked := make([]byte, base64.StdEncoding.DecodedLen(len(encoded)))
	n, err := base64.StdEncoding.Decode(masked, encoded)
	if err != nil {
		return data, false
	}

	plain := o.xor(masked[:n])
	if !json.Valid(plain) {
		return data, false
	}
	return plain, true
}

func (o *Obfuscator) xor(data []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ o.key[i%len(o.key)]
	}
	return out
}
