// ABOUTME: Discovery package documentation
// ABOUTME: mDNS browse and advertise for Moshi servers
// Package discovery finds Moshi servers on the local network via mDNS,
// so the CLI can connect without a hand-typed URL.
package discovery
