// Package config loads the middleware configuration file.
package config

import (
	"bytes"
	"encoding/asn1"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gregLibert/smartcard-middleware/pkg/cvc"
	"github.com/gregLibert/smartcard-middleware/pkg/dispatch"
	"github.com/gregLibert/smartcard-middleware/pkg/eac"
	"github.com/gregLibert/smartcard-middleware/pkg/scp02"
	"github.com/gregLibert/smartcard-middleware/pkg/securechannel"
	"github.com/gregLibert/smartcard-middleware/pkg/tlv"
)

type Config struct {
	Reader   ReaderConfig    `yaml:"reader"`
	Profiles []ProfileConfig `yaml:"profiles"`
	SCP02    SCP02Config     `yaml:"scp02"`
	EAC      EACConfig       `yaml:"eac"`
	Trust    TrustConfig     `yaml:"trust"`
}

type ReaderConfig struct {
	Index *int `yaml:"index"`
}

// ProfileConfig is one entry of the ATR dispatch table. Pattern and
// ProbeAID are hex strings.
type ProfileConfig struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Match    string   `yaml:"match"`
	CardType string   `yaml:"card_type"`
	Services []string `yaml:"services"`
	ProbeAID string   `yaml:"probe_aid"`
}

type SCP02Config struct {
	KeyVersion           *int   `yaml:"key_version"`
	KeyIndex             *int   `yaml:"key_index"`
	ENC                  string `yaml:"enc"`
	MAC                  string `yaml:"mac"`
	DEK                  string `yaml:"dek"`
	SecurityLevel        string `yaml:"security_level"`
	VerifyCardCryptogram *bool  `yaml:"verify_card_cryptogram"`
	ISDAID               string `yaml:"isd_aid"`
}

type EACConfig struct {
	Protocol   string `yaml:"protocol"`
	Curve      string `yaml:"curve"`
	DomainFile string `yaml:"domain_file"`
}

type TrustConfig struct {
	AnchorFiles []string `yaml:"anchor_files"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(configPath string) {
	baseDir := filepath.Dir(configPath)
	c.EAC.DomainFile = resolvePath(baseDir, c.EAC.DomainFile)
	for i, f := range c.Trust.AnchorFiles {
		c.Trust.AnchorFiles[i] = resolvePath(baseDir, f)
	}
}

func resolvePath(baseDir, path string) string {
	if strings.TrimSpace(path) == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func (c *Config) Validate() error {
	if c.Reader.Index != nil && *c.Reader.Index < 0 {
		return fmt.Errorf("config.reader.index must be >= 0")
	}
	for i, p := range c.Profiles {
		if err := p.validate(fmt.Sprintf("config.profiles[%d]", i)); err != nil {
			return err
		}
	}
	if err := c.SCP02.validate(); err != nil {
		return err
	}
	if err := c.EAC.validate(); err != nil {
		return err
	}
	for i, f := range c.Trust.AnchorFiles {
		if err := validateReadableFile(f, fmt.Sprintf("config.trust.anchor_files[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// ReaderIndex returns the configured reader, 0 when unset.
func (c *Config) ReaderIndex() int {
	if c.Reader.Index == nil {
		return 0
	}
	return *c.Reader.Index
}

func (p ProfileConfig) validate(field string) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%s.name is required", field)
	}
	if _, err := requiredHex(p.Pattern, field+".pattern"); err != nil {
		return err
	}
	if _, err := parseMatch(p.Match); err != nil {
		return fmt.Errorf("%s.match: %w", field, err)
	}
	if strings.TrimSpace(p.CardType) == "" {
		return fmt.Errorf("%s.card_type is required", field)
	}
	if len(p.Services) == 0 {
		return fmt.Errorf("%s.services is required", field)
	}
	if _, err := optionalHex(p.ProbeAID, field+".probe_aid"); err != nil {
		return err
	}
	return nil
}

func parseMatch(s string) (dispatch.MatchOn, error) {
	switch s {
	case "", "historical":
		return dispatch.MatchHistorical, nil
	case "atr":
		return dispatch.MatchATR, nil
	default:
		return 0, fmt.Errorf("must be historical or atr, got %q", s)
	}
}

// DispatchProfiles converts the profile table. An empty table yields
// dispatch.DefaultProfiles.
func (c *Config) DispatchProfiles() []dispatch.Profile {
	if len(c.Profiles) == 0 {
		return dispatch.DefaultProfiles()
	}
	profiles := make([]dispatch.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		match, _ := parseMatch(p.Match)
		profiles = append(profiles, dispatch.Profile{
			Name:     p.Name,
			Pattern:  decoded(p.Pattern),
			Match:    match,
			CardType: p.CardType,
			Services: append([]string(nil), p.Services...),
			ProbeAID: decoded(p.ProbeAID),
		})
	}
	return profiles
}

func (s SCP02Config) validate() error {
	if err := validateByte(s.KeyVersion, "config.scp02.key_version"); err != nil {
		return err
	}
	if err := validateByte(s.KeyIndex, "config.scp02.key_index"); err != nil {
		return err
	}
	if s.HasKeys() {
		for _, k := range []struct{ value, field string }{
			{s.ENC, "config.scp02.enc"},
			{s.MAC, "config.scp02.mac"},
			{s.DEK, "config.scp02.dek"},
		} {
			key, err := requiredHex(k.value, k.field)
			if err != nil {
				return err
			}
			if len(key) != 16 {
				return fmt.Errorf("%s must be 16 bytes, got %d", k.field, len(key))
			}
		}
	}
	if _, err := parseLevel(s.SecurityLevel); err != nil {
		return fmt.Errorf("config.scp02.security_level: %w", err)
	}
	aid, err := optionalHex(s.ISDAID, "config.scp02.isd_aid")
	if err != nil {
		return err
	}
	if aid != nil && (len(aid) < 5 || len(aid) > 16) {
		return fmt.Errorf("config.scp02.isd_aid must be 5..16 bytes")
	}
	return nil
}

// HasKeys reports whether any static key is configured.
func (s SCP02Config) HasKeys() bool {
	return s.ENC != "" || s.MAC != "" || s.DEK != ""
}

func parseLevel(s string) (securechannel.Level, error) {
	switch s {
	case "", "cmac+cenc":
		return securechannel.LevelMACEnc, nil
	case "cmac":
		return securechannel.LevelMAC, nil
	case "none":
		return securechannel.LevelNone, nil
	default:
		return 0, fmt.Errorf("must be none, cmac or cmac+cenc, got %q", s)
	}
}

// StaticKeys returns the configured key set, or nil when none is set.
func (s SCP02Config) StaticKeys() scp02.SessionKeyProvider {
	if !s.HasKeys() {
		return nil
	}
	return scp02.StaticKeys{
		ENC:     decoded(s.ENC),
		MAC:     decoded(s.MAC),
		DEK:     decoded(s.DEK),
		Version: byteOf(s.KeyVersion),
	}
}

// Channel returns the secure channel parameters.
func (s SCP02Config) Channel() scp02.Config {
	cfg := scp02.DefaultConfig()
	cfg.KeyVersion = byteOf(s.KeyVersion)
	cfg.KeyIndex = byteOf(s.KeyIndex)
	cfg.Level, _ = parseLevel(s.SecurityLevel)
	if s.VerifyCardCryptogram != nil {
		cfg.SkipCardCryptogram = !*s.VerifyCardCryptogram
	}
	return cfg
}

// SecurityDomain returns the configured ISD AID, nil for the default.
func (s SCP02Config) SecurityDomain() []byte {
	return decoded(s.ISDAID)
}

func (e EACConfig) validate() error {
	if e.Protocol != "" {
		if _, err := parseOID(e.Protocol); err != nil {
			return fmt.Errorf("config.eac.protocol: %w", err)
		}
	}
	if e.Curve != "" && strings.TrimSpace(e.DomainFile) != "" {
		return fmt.Errorf("config.eac.curve and config.eac.domain_file are mutually exclusive")
	}
	if e.Curve != "" {
		if _, err := cvc.NamedDomain(e.Curve); err != nil {
			return fmt.Errorf("config.eac.curve: %w", err)
		}
	}
	if strings.TrimSpace(e.DomainFile) != "" {
		if err := validateReadableFile(e.DomainFile, "config.eac.domain_file"); err != nil {
			return err
		}
	}
	return nil
}

// ChipAuthentication returns the Chip Authentication parameters. The
// domain file holds a hex encoded '7F49' template.
func (e EACConfig) ChipAuthentication() (eac.Config, error) {
	cfg := eac.DefaultConfig()
	if e.Protocol != "" {
		oid, err := parseOID(e.Protocol)
		if err != nil {
			return cfg, fmt.Errorf("config.eac.protocol: %w", err)
		}
		cfg.Protocol = oid
	}

	switch {
	case e.Curve != "":
		domain, err := cvc.NamedDomain(e.Curve)
		if err != nil {
			return cfg, fmt.Errorf("config.eac.curve: %w", err)
		}
		cfg.Domain = domain
	case strings.TrimSpace(e.DomainFile) != "":
		domain, err := LoadDomainFile(e.DomainFile)
		if err != nil {
			return cfg, err
		}
		cfg.Domain = domain
	}
	return cfg, nil
}

// LoadDomainFile reads domain parameters from a hex encoded '7F49'
// template.
func LoadDomainFile(path string) (*cvc.DomainParameters, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain file: %w", err)
	}
	raw, err := tlv.ParseHex(string(content))
	if err != nil {
		return nil, fmt.Errorf("domain file %s: %w", path, err)
	}
	domain, err := cvc.ParseDomainParameters(raw)
	if err != nil {
		return nil, fmt.Errorf("domain file %s: %w", path, err)
	}
	return domain, nil
}

// Anchors parses the trust anchor certificates. Each file holds one or more
// binary CVCs.
func (t TrustConfig) Anchors() ([]*cvc.Certificate, error) {
	var anchors []*cvc.Certificate
	for _, f := range t.AnchorFiles {
		content, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read trust anchor: %w", err)
		}
		certs, err := cvc.ParseAll(content)
		if err != nil {
			return nil, fmt.Errorf("trust anchor %s: %w", f, err)
		}
		anchors = append(anchors, certs...)
	}
	return anchors, nil
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID %q", s)
		}
		oid[i] = n
	}
	return oid, nil
}

func requiredHex(s, field string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("%s is required", field)
	}
	b, err := tlv.ParseHex(s)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", field, err)
	}
	return b, nil
}

func optionalHex(s, field string) ([]byte, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return requiredHex(s, field)
}

// decoded returns the bytes of a validated hex value, nil when empty.
func decoded(s string) []byte {
	b, err := tlv.ParseHex(s)
	if err != nil || len(b) == 0 {
		return nil
	}
	return b
}

func validateByte(v *int, field string) error {
	if v != nil && (*v < 0 || *v > 0xFF) {
		return fmt.Errorf("%s must be 0..255", field)
	}
	return nil
}

func byteOf(v *int) byte {
	if v == nil {
		return 0
	}
	return byte(*v)
}

func validateReadableFile(path, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s is not readable: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must be a file", field)
	}
	return nil
}
