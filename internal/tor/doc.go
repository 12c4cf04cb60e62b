// Package tor lets sprite crawl onion services.
//
// Daemon runs an embedded Tor process through tornago; its SOCKS port is
// used as the proxy of every download. CheckURL validates onion seed URLs
// before a crawl starts, including the checksum of v3 addresses.
package tor
