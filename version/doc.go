// Package version reports build information for proxykit binaries.
package version
