// Package selector decides which target source, if any, backs a definition.
//
// A Chain asks its creators in order; the first one that claims the
// definition wins and later creators are not consulted. When nobody claims it
// the object is used directly, without a proxy.
//
//	chain := selector.Default(cfg)
//	src, err := chain.Select(def, typ, factory)
//	if src == nil {
//	    // use the object directly
//	}
package selector
