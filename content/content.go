// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

// Package content extracts the service-specific fields from a decrypted
// payload body.
//
// Two plaintext formats exist. v0 bodies are colon-delimited strings
// whose split policy depends on the service type. v1/v2 bodies are a
// packed binary record: a fixed run of little-endian length prefixes
// (one per possible field, widths differing between v1 and v2), then
// the field contents concatenated in the same order. The extractor
// normalizes both into a [Parts] struct and re-shapes it for the
// service type that will publish it.
package content

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Service identifies the kind of message an adapter publishes.
type Service string

const (
	ServiceEmail   Service = "email"
	ServiceText    Service = "text"
	ServiceMessage Service = "message"
	ServiceTest    Service = "test"
)

// ErrUnsupportedService marks a service type with no extraction rule.
// Distinct from malformed-content errors: the caller sent a type this
// gateway will never understand, so retrying cannot help.
var ErrUnsupportedService = errors.New("invalid service type")

// Parts holds the extracted fields of one message. Which fields are
// populated depends on the service: email uses all eight, text uses
// From/Body plus optional tokens, message uses From/To/Body, test
// carries its test identifier in From.
type Parts struct {
	Service Service

	From         string
	To           string
	CC           string
	BCC          string
	Subject      string
	Body         string
	AccessToken  string
	RefreshToken string
}

// Extract parses a decrypted payload body according to the envelope
// version it arrived in and the target service type.
func Extract(service Service, version int, plaintext []byte) (*Parts, error) {
	switch version {
	case 0:
		return extractV0(service, string(plaintext))
	case 1:
		return extractPacked(service, plaintext, v1Prefixes)
	case 2:
		return extractPacked(service, plaintext, v2Prefixes)
	default:
		return nil, fmt.Errorf("no extractor for payload version %d", version)
	}
}

// extractV0 splits a colon-delimited v0 body. Each service has its own
// maximum split count so that trailing free-text fields may contain
// colons, and its own minimum part count.
func extractV0(service Service, body string) (*Parts, error) {
	switch service {
	case ServiceEmail:
		parts := strings.SplitN(body, ":", 8)
		if len(parts) < 6 {
			return nil, fmt.Errorf("email content must have at least 6 parts, got %d", len(parts))
		}
		p := &Parts{
			Service: service,
			From:    parts[0],
			To:      parts[1],
			CC:      parts[2],
			BCC:     parts[3],
			Subject: parts[4],
			Body:    parts[5],
		}
		if len(parts) > 6 {
			p.AccessToken = parts[6]
		}
		if len(parts) > 7 {
			p.RefreshToken = parts[7]
		}
		return p, nil

	case ServiceText:
		parts := strings.SplitN(body, ":", 4)
		if len(parts) < 2 {
			return nil, fmt.Errorf("text content must have at least 2 parts, got %d", len(parts))
		}
		p := &Parts{
			Service: service,
			From:    parts[0],
			Body:    parts[1],
		}
		if len(parts) > 2 {
			p.AccessToken = parts[2]
		}
		if len(parts) > 3 {
			p.RefreshToken = parts[3]
		}
		return p, nil

	case ServiceMessage:
		parts := strings.SplitN(body, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("message content must have exactly 3 parts, got %d", len(parts))
		}
		return &Parts{
			Service: service,
			From:    parts[0],
			To:      parts[1],
			Body:    parts[2],
		}, nil

	case ServiceTest:
		return &Parts{Service: service, From: body}, nil

	default:
		return nil, fmt.Errorf("%w %q: must be 'email', 'text', 'message', or 'test'", ErrUnsupportedService, service)
	}
}

// A lengthPrefix describes one length field of the packed header: the
// field it sizes and the prefix's own byte width (1 or 2,
// little-endian).
type lengthPrefix struct {
	field string
	width int
}

// v1Prefixes is the packed header layout for v1 bodies.
var v1Prefixes = []lengthPrefix{
	{"from", 1},
	{"to", 2},
	{"cc", 2},
	{"bcc", 2},
	{"subject", 1},
	{"body", 2},
	{"access_token", 1},
	{"refresh_token", 1},
}

// v2Prefixes widens the token prefixes so rotated OAuth2 credentials
// longer than 255 bytes fit.
var v2Prefixes = []lengthPrefix{
	{"from", 1},
	{"to", 2},
	{"cc", 2},
	{"bcc", 2},
	{"subject", 1},
	{"body", 2},
	{"access_token", 2},
	{"refresh_token", 2},
}

// extractPacked parses a packed binary body: the complete prefix run,
// then each field's contents in prefix order. Truncation is handled
// like the envelope decoder handles it: parsing stops at the first
// length or content that overruns the buffer and every field not yet
// populated stays empty.
func extractPacked(service Service, body []byte, prefixes []lengthPrefix) (*Parts, error) {
	lengths := make(map[string]int, len(prefixes))
	offset := 0

	for _, prefix := range prefixes {
		if offset+prefix.width > len(body) {
			break
		}
		switch prefix.width {
		case 1:
			lengths[prefix.field] = int(body[offset])
		case 2:
			lengths[prefix.field] = int(binary.LittleEndian.Uint16(body[offset:]))
		}
		offset += prefix.width
	}

	values := make(map[string]string, len(prefixes))
	for _, prefix := range prefixes {
		size, ok := lengths[prefix.field]
		if !ok || offset+size > len(body) {
			break
		}
		values[prefix.field] = string(body[offset : offset+size])
		offset += size
	}

	return reshape(service, values)
}

// reshape maps the packed field mapping onto the positional contract of
// the service type.
func reshape(service Service, values map[string]string) (*Parts, error) {
	switch service {
	case ServiceEmail:
		return &Parts{
			Service:      service,
			From:         values["from"],
			To:           values["to"],
			CC:           values["cc"],
			BCC:          values["bcc"],
			Subject:      values["subject"],
			Body:         values["body"],
			AccessToken:  values["access_token"],
			RefreshToken: values["refresh_token"],
		}, nil
	case ServiceText:
		return &Parts{
			Service:      service,
			From:         values["from"],
			Body:         values["body"],
			AccessToken:  values["access_token"],
			RefreshToken: values["refresh_token"],
		}, nil
	case ServiceMessage:
		return &Parts{
			Service: service,
			From:    values["from"],
			To:      values["to"],
			Body:    values["body"],
		}, nil
	case ServiceTest:
		return &Parts{Service: service, From: values["from"]}, nil
	default:
		return nil, fmt.Errorf("%w %q: must be 'email', 'text', 'message', or 'test'", ErrUnsupportedService, service)
	}
}
