// Package proxy builds interceptable facades over an interface contract.
//
// A TypeDescriptor is read from an interface type by reflection. New binds it
// to a target.Source, runs the member transform pipeline and freezes the
// interceptor chain. Every call then goes through Invoke: resolve the target,
// run the chain, call the transformed member body, release the target.
//
// Callers reach a proxy three ways:
//
//	// dynamic
//	res, err := p.Invoke(ctx, "Get", "key")
//
//	// typed helper, for hand-written facades
//	v, err := proxy.Call[string](ctx, p, "Get", "key")
//
//	// dispatch table: a struct of func fields filled by Bind
//	var table struct {
//	    Get func(ctx context.Context, key string) (string, error)
//	}
//	err := proxy.Bind(p, &table)
//
// Members may take a leading context.Context and may return a trailing error.
// A bound func without an error result panics with the call's error.
package proxy
