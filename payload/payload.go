// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package payload decodes and encodes the binary envelope that client
// devices publish through the gateway.
//
// Three envelope revisions are in the field:
//
//	v0:  len_ciphertext:int32-LE | shortcode:1 | ciphertext | device_id:remainder
//	v1:  tag=0x01 | len_ciphertext:uint16-LE | len_device_id:uint8 |
//	     shortcode:1 | ciphertext | device_id | language:2
//	v2:  tag=0x02, otherwise identical to v1 (the revisions differ in the
//	     packed content record inside the ciphertext, not the envelope)
//
// v0 has no version tag, so [Decode] sniffs it structurally: a payload
// is v0 iff it has at least 5 bytes, its first 4 bytes decode to a
// non-negative int32, and the total length covers that many ciphertext
// bytes. Everything else is dispatched on the leading tag byte.
//
// Decoding is deliberately lenient about truncation: parsing stops at
// the first field whose declared width exceeds the remaining buffer,
// and any field not yet populated stays empty. Only base64 failures at
// [DecodeContent] and an unknown version tag are errors.
package payload

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Envelope is a decoded payload envelope.
type Envelope struct {
	// Version is the envelope revision: 0, 1, or 2.
	Version int

	// Shortcode is the single-character platform shortcode.
	Shortcode string

	// Ciphertext is the encrypted content record. Decryption belongs
	// to the vault; this package never looks inside.
	Ciphertext []byte

	// DeviceID identifies the publishing device. May be empty, in
	// which case the sender's phone number identifies the account.
	DeviceID []byte

	// Language is the 2-character content language code. v1/v2 only.
	Language string
}

// A fieldSpec describes one field of an envelope layout. Exactly one
// sizing mode applies: a fixed width, a width read from a previously
// decoded length field, or the remainder of the buffer.
type fieldSpec struct {
	name string

	// width is the fixed byte width. Ignored when lenField or
	// remainder is set.
	width int

	// lenField names the integer field whose decoded value is this
	// field's width.
	lenField string

	// remainder consumes all bytes left in the buffer.
	remainder bool

	// integer decodes the field as a little-endian integer and makes
	// it available as a width for later fields.
	integer bool

	// signed decodes the integer as two's complement. Only the v0
	// length prefix is signed; a negative value stops the parse.
	signed bool
}

var v0Layout = []fieldSpec{
	{name: "len_ciphertext", width: 4, integer: true, signed: true},
	{name: "shortcode", width: 1},
	{name: "ciphertext", lenField: "len_ciphertext"},
	{name: "device_id", remainder: true},
}

// v1Layout is the layout after the leading version tag byte. v2 shares it.
var v1Layout = []fieldSpec{
	{name: "len_ciphertext", width: 2, integer: true},
	{name: "len_device_id", width: 1, integer: true},
	{name: "shortcode", width: 1},
	{name: "ciphertext", lenField: "len_ciphertext"},
	{name: "device_id", lenField: "len_device_id"},
	{name: "language", width: 2},
}

// parseFields walks a layout over data, stopping at the first field
// whose width exceeds the remaining bytes. Fields never parsed are
// simply absent from the returned map.
func parseFields(data []byte, layout []fieldSpec) map[string][]byte {
	fields := make(map[string][]byte, len(layout))
	widths := make(map[string]int)

	offset := 0
	for _, spec := range layout {
		width := spec.width
		switch {
		case spec.lenField != "":
			width = widths[spec.lenField]
		case spec.remainder:
			width = len(data) - offset
		}
		if width < 0 || offset+width > len(data) {
			break
		}

		raw := data[offset : offset+width]
		offset += width

		if spec.integer {
			widths[spec.name] = decodeInt(raw, spec.signed)
		} else {
			fields[spec.name] = raw
		}
	}

	return fields
}

// decodeInt decodes a little-endian integer of 1, 2, or 4 bytes.
func decodeInt(raw []byte, signed bool) int {
	var v uint32
	switch len(raw) {
	case 1:
		v = uint32(raw[0])
	case 2:
		v = uint32(binary.LittleEndian.Uint16(raw))
	case 4:
		v = binary.LittleEndian.Uint32(raw)
	}
	if signed {
		return int(int32(v))
	}
	return int(v)
}

// IsV0 reports whether raw sniffs as a v0 (untagged) envelope.
func IsV0(raw []byte) bool {
	if len(raw) < 5 {
		return false
	}
	n := int32(binary.LittleEndian.Uint32(raw[:4]))
	if n < 0 {
		return false
	}
	return len(raw) >= 5+int(n)
}

// Decode sniffs the envelope version and parses raw accordingly.
func Decode(raw []byte) (*Envelope, error) {
	if IsV0(raw) {
		fields := parseFields(raw, v0Layout)
		return &Envelope{
			Version:    0,
			Shortcode:  string(fields["shortcode"]),
			Ciphertext: fields["ciphertext"],
			DeviceID:   fields["device_id"],
		}, nil
	}

	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	version := raw[0]
	switch version {
	case 1, 2:
		fields := parseFields(raw[1:], v1Layout)
		return &Envelope{
			Version:    int(version),
			Shortcode:  string(fields["shortcode"]),
			Ciphertext: fields["ciphertext"],
			DeviceID:   fields["device_id"],
			Language:   string(fields["language"]),
		}, nil
	default:
		return nil, fmt.Errorf("unknown payload version %d", version)
	}
}

// DecodeContent base64-decodes a publish request's content field and
// decodes the envelope inside it.
func DecodeContent(content string) (*Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("decoding base64 content: %w", err)
	}
	return Decode(raw)
}

// EncodeV0 builds an untagged v0 envelope.
func EncodeV0(shortcode string, ciphertext, deviceID []byte) ([]byte, error) {
	if len(shortcode) != 1 {
		return nil, fmt.Errorf("shortcode must be a single character, got %q", shortcode)
	}
	if len(ciphertext) > math.MaxInt32 {
		return nil, fmt.Errorf("ciphertext too large: %d bytes", len(ciphertext))
	}

	buf := make([]byte, 0, 5+len(ciphertext)+len(deviceID))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ciphertext)))
	buf = append(buf, shortcode[0])
	buf = append(buf, ciphertext...)
	buf = append(buf, deviceID...)
	return buf, nil
}

// EncodeV1 builds a tagged v1 envelope.
func EncodeV1(shortcode string, ciphertext, deviceID []byte, language string) ([]byte, error) {
	return encodeTagged(1, shortcode, ciphertext, deviceID, language)
}

// EncodeV2 builds a tagged v2 envelope. The envelope shape is v1's;
// the tag tells the content extractor which packed record widths the
// plaintext uses.
func EncodeV2(shortcode string, ciphertext, deviceID []byte, language string) ([]byte, error) {
	return encodeTagged(2, shortcode, ciphertext, deviceID, language)
}

func encodeTagged(version byte, shortcode string, ciphertext, deviceID []byte, language string) ([]byte, error) {
	if len(shortcode) != 1 {
		return nil, fmt.Errorf("shortcode must be a single character, got %q", shortcode)
	}
	if len(ciphertext) > math.MaxUint16 {
		return nil, fmt.Errorf("ciphertext too large for v%d: %d bytes", version, len(ciphertext))
	}
	if len(deviceID) > math.MaxUint8 {
		return nil, fmt.Errorf("device id too large for v%d: %d bytes", version, len(deviceID))
	}
	if len(language) != 2 {
		return nil, fmt.Errorf("language must be 2 characters, got %q", language)
	}

	buf := make([]byte, 0, 1+2+1+1+len(ciphertext)+len(deviceID)+2)
	buf = append(buf, version)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ciphertext)))
	buf = append(buf, byte(len(deviceID)))
	buf = append(buf, shortcode[0])
	buf = append(buf, ciphertext...)
	buf = append(buf, deviceID...)
	buf = append(buf, language...)
	return buf, nil
}
