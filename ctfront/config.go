// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ctfront

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/certificate-transparency-go/x509"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of one log front-end.
type Config struct {
	// LogID is the tree ID on the signing backend.
	LogID int64 `yaml:"log_id"`
	// RootsPEMFile names the files holding accepted root certificates.
	RootsPEMFile []string `yaml:"roots_pem_file"`
	// PrivateKeyPEMFile holds the log's signing key.
	PrivateKeyPEMFile string `yaml:"private_key_pem_file"`

	// MaxLeafEntriesPerResponse caps one get-entries response; 0 means the
	// default of 1000.
	MaxLeafEntriesPerResponse int64 `yaml:"max_leaf_entries_per_response"`
	// StalenessCheckDelaySecs is the staleness monitor period; 0 means the
	// default of 5.
	StalenessCheckDelaySecs int `yaml:"staleness_check_delay_secs"`
	// AcceptCertificates gates add-chain / add-pre-chain; unset means true.
	AcceptCertificates *bool `yaml:"accept_certificates"`
	// AcceptSignedData gates add-signed-data; defaults to false.
	AcceptSignedData bool `yaml:"accept_signed_data"`

	// Chain validation policy.
	RejectExpired bool       `yaml:"reject_expired"`
	AcceptOnlyCA  bool       `yaml:"accept_only_ca"`
	ExtKeyUsages  []string   `yaml:"ext_key_usages"`
	NotAfterStart *time.Time `yaml:"not_after_start"`
	NotAfterLimit *time.Time `yaml:"not_after_limit"`

	// IsMirror marks a node that serves another log's data: no trust
	// store, no signing key, no submissions.
	IsMirror bool `yaml:"is_mirror"`
}

var stringToKeyUsage = map[string]x509.ExtKeyUsage{
	"Any":                        x509.ExtKeyUsageAny,
	"ServerAuth":                 x509.ExtKeyUsageServerAuth,
	"ClientAuth":                 x509.ExtKeyUsageClientAuth,
	"CodeSigning":                x509.ExtKeyUsageCodeSigning,
	"EmailProtection":            x509.ExtKeyUsageEmailProtection,
	"IPSECEndSystem":             x509.ExtKeyUsageIPSECEndSystem,
	"IPSECTunnel":                x509.ExtKeyUsageIPSECTunnel,
	"IPSECUser":                  x509.ExtKeyUsageIPSECUser,
	"TimeStamping":               x509.ExtKeyUsageTimeStamping,
	"OCSPSigning":                x509.ExtKeyUsageOCSPSigning,
	"MicrosoftServerGatedCrypto": x509.ExtKeyUsageMicrosoftServerGatedCrypto,
	"NetscapeServerGatedCrypto":  x509.ExtKeyUsageNetscapeServerGatedCrypto,
}

// ConfigFromFile reads and validates a YAML config file.
func ConfigFromFile(filename string) (*Config, error) {
	if len(filename) == 0 {
		return nil, errors.New("config filename empty")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %v", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a config for consistency. A mirror node has neither a
// trust store nor a signing key; a log node needs both.
func (c *Config) Validate() error {
	if c.LogID == 0 {
		return errors.New("empty log ID")
	}
	if c.IsMirror {
		if len(c.RootsPEMFile) > 0 {
			return errors.New("unnecessary trusted roots for mirror")
		}
		if len(c.PrivateKeyPEMFile) > 0 {
			return errors.New("unnecessary private key for mirror")
		}
	} else {
		if len(c.RootsPEMFile) == 0 {
			return errors.New("need to specify roots_pem_file")
		}
		if len(c.PrivateKeyPEMFile) == 0 {
			return errors.New("need to specify private_key_pem_file")
		}
	}
	if c.MaxLeafEntriesPerResponse < 0 {
		return errors.New("negative max_leaf_entries_per_response")
	}
	if c.StalenessCheckDelaySecs < 0 {
		return errors.New("negative staleness_check_delay_secs")
	}
	for _, ku := range c.ExtKeyUsages {
		if _, ok := stringToKeyUsage[ku]; !ok {
			return fmt.Errorf("unknown extended key usage: %s", ku)
		}
	}
	if c.NotAfterStart != nil && c.NotAfterLimit != nil && c.NotAfterLimit.Before(*c.NotAfterStart) {
		return errors.New("limit before start")
	}
	return nil
}

// KeyUsages resolves the configured EKU names; an empty list means Any.
func (c *Config) KeyUsages() []x509.ExtKeyUsage {
	if len(c.ExtKeyUsages) == 0 {
		return []x509.ExtKeyUsage{x509.ExtKeyUsageAny}
	}
	usages := make([]x509.ExtKeyUsage, 0, len(c.ExtKeyUsages))
	for _, ku := range c.ExtKeyUsages {
		usages = append(usages, stringToKeyUsage[ku])
	}
	return usages
}

// AcceptsCertificates resolves the tri-state accept_certificates field.
func (c *Config) AcceptsCertificates() bool {
	return c.AcceptCertificates == nil || *c.AcceptCertificates
}

// StalenessDelay resolves the monitor period.
func (c *Config) StalenessDelay() time.Duration {
	if c.StalenessCheckDelaySecs <= 0 {
		return DefaultStalenessCheckDelay
	}
	return time.Duration(c.StalenessCheckDelaySecs) * time.Second
}

// MaxEntries resolves the get-entries response cap.
func (c *Config) MaxEntries() int64 {
	if c.MaxLeafEntriesPerResponse <= 0 {
		return DefaultMaxLeafEntriesPerResponse
	}
	return c.MaxLeafEntriesPerResponse
}

// ValidationOpts builds the chain validation options from the config and
// the given trust store.
func (c *Config) ValidationOpts(roots *PEMCertPool) CertValidationOpts {
	return CertValidationOpts{
		trustedRoots:  roots,
		rejectExpired: c.RejectExpired,
		notAfterStart: c.NotAfterStart,
		notAfterLimit: c.NotAfterLimit,
		acceptOnlyCA:  c.AcceptOnlyCA,
		extKeyUsages:  c.KeyUsages(),
	}
}
