// Copyright 2026 The Herald Authors
// SPDX-License-Identifier: Apache-2.0

package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// Bundle files every adapter must carry. requirementsFile is optional
// and triggers isolated-runtime provisioning when present.
const (
	manifestFile     = "manifest.ini"
	configFile       = "config.ini"
	entrypointFile   = "main.py"
	requirementsFile = "requirements.txt"
)

// Protocol types an adapter may declare. "test" appears in older
// reliability-harness manifests and is normalized to ProtocolEvent.
const (
	ProtocolOAuth2 = "oauth2"
	ProtocolPNBA   = "pnba"
	ProtocolEvent  = "event"
)

// requiredFiles are checked before a bundle is accepted, whether found
// during a scan or freshly cloned.
var requiredFiles = []string{manifestFile, configFile, entrypointFile}

// Manifest describes one adapter bundle, parsed from the [platform]
// section of its manifest.ini.
type Manifest struct {
	// Name is the platform name, e.g. "gmail". Unique per protocol.
	Name string

	// Shortcode is the single-character platform identifier embedded
	// in inbound payloads. Unique across the registry.
	Shortcode string

	// Protocol is the delivery protocol: oauth2, pnba, or event.
	Protocol string

	// Service is the message shape: email, text, message, or test.
	Service string

	// IconSVG and IconPNG are optional bundle-relative icon paths.
	IconSVG string
	IconPNG string
}

// Key returns the canonical registry key for this manifest,
// lowercase(name)_lowercase(protocol). Installed bundle directories
// carry the same name.
func (m *Manifest) Key() string {
	return Key(m.Name, m.Protocol)
}

// Key builds the canonical registry key for a name/protocol pair.
func Key(name, protocol string) string {
	return strings.ToLower(name) + "_" + strings.ToLower(protocol)
}

// ValidateBundle checks that dir contains every required bundle file.
func ValidateBundle(dir string) error {
	for _, name := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("bundle missing required file %s: %w", name, err)
		}
	}
	return nil
}

// HasRequirements reports whether the bundle at dir declares
// dependencies for an isolated runtime.
func HasRequirements(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, requirementsFile))
	return err == nil
}

// LoadManifest parses and validates dir's manifest.ini.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestFile)
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}

	section, err := file.GetSection("platform")
	if err != nil {
		return nil, fmt.Errorf("%s has no [platform] section", path)
	}

	m := &Manifest{
		Name:      section.Key("name").String(),
		Shortcode: section.Key("shortcode").String(),
		Protocol:  section.Key("protocol_type").String(),
		Service:   section.Key("service_type").String(),
		IconSVG:   section.Key("icon_svg").String(),
		IconPNG:   section.Key("icon_png").String(),
	}

	if m.Protocol == "test" {
		m.Protocol = ProtocolEvent
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if len(m.Shortcode) != 1 {
		return fmt.Errorf("shortcode must be a single character, got %q", m.Shortcode)
	}
	if m.Protocol == "" {
		return fmt.Errorf("manifest missing protocol_type")
	}
	if m.Service == "" {
		return fmt.Errorf("manifest missing service_type")
	}
	return nil
}
