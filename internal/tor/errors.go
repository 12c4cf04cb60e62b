package tor

import "errors"

var (
	// ErrNotRunning is returned when the daemon address is requested
	// before Start succeeded.
	ErrNotRunning = errors.New("embedded Tor daemon is not running")

	// ErrInvalidOnionAddress is returned when a host is not a valid v3
	// onion address.
	ErrInvalidOnionAddress = errors.New("invalid onion address")

	// ErrV2AddressDeprecated is returned for v2 addresses, which stopped
	// working in October 2021.
	ErrV2AddressDeprecated = errors.New("v2 onion addresses are deprecated and no longer functional")

	// ErrProxyRequired is returned when an onion URL would be fetched
	// without Tor.
	ErrProxyRequired = errors.New("onion urls need --tor or a socks5h proxy")
)
