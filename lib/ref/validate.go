// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// parseSigilID splits a Matrix identifier of the form
// <sigil>localpart:server into its parts. The sigil is '@' for user
// IDs, '!' for room IDs, '#' for room aliases. Both the localpart and
// the server name must be non-empty; the localpart itself may contain
// further colons only in identifiers where the spec allows it, which
// this function does not police — the first ':' after the sigil is
// taken as the separator.
func parseSigilID(identifier string, sigil byte, kind string) (localpart, server string, err error) {
	if len(identifier) < 2 || identifier[0] != sigil {
		return "", "", fmt.Errorf("invalid %s %q: must start with %q", kind, identifier, string(sigil))
	}
	colon := strings.IndexByte(identifier[1:], ':')
	if colon < 0 {
		return "", "", fmt.Errorf("invalid %s %q: missing ':server' suffix", kind, identifier)
	}
	if colon == 0 {
		return "", "", fmt.Errorf("invalid %s %q: empty localpart", kind, identifier)
	}
	localpart = identifier[1 : 1+colon]
	server = identifier[1+colon+1:]
	if err := validateServer(server, kind, identifier); err != nil {
		return "", "", err
	}
	return localpart, server, nil
}

// validateServer checks that a Matrix server name is minimally
// plausible: non-empty, no whitespace or control characters, no
// identifier sigils.
func validateServer(server, kind, identifier string) error {
	if server == "" {
		return fmt.Errorf("invalid %s %q: empty server name", kind, identifier)
	}
	for i := 0; i < len(server); i++ {
		c := server[i]
		if c <= ' ' || c == '@' || c == '!' || c == '#' {
			return fmt.Errorf("invalid %s %q: bad character in server name at position %d", kind, identifier, i)
		}
	}
	return nil
}
