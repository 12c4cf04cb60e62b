package tor

import (
	"encoding/base32"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// onionSuffix is the top-level domain of onion services.
const onionSuffix = ".onion"

// v3Version is the version byte embedded in v3 addresses.
const v3Version = 0x03

var (
	onionV3Pattern = regexp.MustCompile(`^[a-z2-7]{56}\.onion$`)
	onionV2Pattern = regexp.MustCompile(`^[a-z2-7]{16}\.onion$`)
)

// checksumPrefix is hashed before the key when computing a v3 checksum.
var checksumPrefix = []byte(".onion checksum")

// IsOnionHost reports whether host, or one of its parents, is an onion
// address.
func IsOnionHost(host string) bool {
	return strings.HasSuffix(strings.ToLower(host), onionSuffix)
}

// IsValidV3Address checks the format and checksum of a v3 onion address.
// Subdomains are not accepted.
func IsValidV3Address(address string) bool {
	address = strings.ToLower(address)
	if !onionV3Pattern.MatchString(address) {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(strings.TrimSuffix(address, onionSuffix)))
	if err != nil || len(decoded) != 35 {
		return false
	}

	// public key (32) | checksum (2) | version (1)
	pubkey, checksum, version := decoded[:32], decoded[32:34], decoded[34]
	if version != v3Version {
		return false
	}
	want := v3Checksum(pubkey, version)
	return checksum[0] == want[0] && checksum[1] == want[1]
}

// v3Checksum returns the first two bytes of
// SHA3-256(".onion checksum" | pubkey | version).
func v3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)
	hash := sha3.Sum256(data)
	return hash[:2]
}

// CheckURL validates the host of an onion URL. Subdomains of an onion
// service are allowed. URLs of other hosts pass unchanged.
func CheckURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	host := strings.ToLower(u.Hostname())
	if !IsOnionHost(host) {
		return nil
	}

	// a.b.<service>.onion -> <service>.onion
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		host = strings.Join(labels[len(labels)-2:], ".")
	}

	if IsValidV3Address(host) {
		return nil
	}
	if onionV2Pattern.MatchString(host) {
		return fmt.Errorf("%w: %s", ErrV2AddressDeprecated, host)
	}
	return fmt.Errorf("%w: %s", ErrInvalidOnionAddress, host)
}
