package util

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeAddress canonicalizes a mailbox address for storage and cache
// lookups: trim surrounding whitespace, unicode NFC so visually identical
// addresses compare equal, then lowercase (local parts are case-insensitive
// here, not just domains). The caches match keys byte for byte, so every
// path that touches them must normalize first or lookups silently fragment.
func NormalizeAddress(address string) (string, error) {
	if len(address) > 254 {
		return "", fmt.Errorf("address cannot be longer than 254 characters")
	}

	address = strings.TrimSpace(address)
	if len(address) == 0 {
		return "", fmt.Errorf("address cannot be empty")
	}

	address = norm.NFC.String(address)
	address = strings.ToLower(address)

	local, domain, found := strings.Cut(address, "@")
	if !found || len(local) == 0 || len(domain) == 0 {
		return "", fmt.Errorf("address must be local@domain")
	}
	// Trailing root dot on the domain is equivalent, drop it
	domain = strings.TrimSuffix(domain, ".")
	if len(domain) == 0 {
		return "", fmt.Errorf("address must be local@domain")
	}

	return local + "@" + domain, nil
}

// AddressDomain returns the domain part of an already normalized address.
func AddressDomain(address string) string {
	_, domain, _ := strings.Cut(address, "@")
	return domain
}
