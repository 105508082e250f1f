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

package backend

import (
	"crypto"
	stdx509 "crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// LoadPrivateKey reads the log's signing key from a PEM file. PKCS#8, SEC1
// EC and PKCS#1 RSA encodings are accepted.
func LoadPrivateKey(pemFile string) (crypto.Signer, error) {
	data, err := os.ReadFile(pemFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %v", err)
	}
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		switch block.Type {
		case "PRIVATE KEY":
			key, err := stdx509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse PKCS#8 key: %v", err)
			}
			signer, ok := key.(crypto.Signer)
			if !ok {
				return nil, fmt.Errorf("key of type %T cannot sign", key)
			}
			return signer, nil
		case "EC PRIVATE KEY":
			key, err := stdx509.ParseECPrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse EC key: %v", err)
			}
			return key, nil
		case "RSA PRIVATE KEY":
			key, err := stdx509.ParsePKCS1PrivateKey(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse RSA key: %v", err)
			}
			return key, nil
		}
	}
	return nil, fmt.Errorf("no private key found in %s", pemFile)
}
