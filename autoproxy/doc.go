// Package autoproxy creates proxies for registered definitions.
//
// A Creator asks its selector chain which target source should service each
// definition. Claimed definitions get a proxy over that source with the
// creator's interceptors and transform stages; unclaimed ones get the object
// the factory creates. Instances are created once, on first Get, and torn
// down in reverse creation order by Shutdown.
package autoproxy
