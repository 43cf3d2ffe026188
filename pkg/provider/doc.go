// Package provider implements a reactive dependency graph of lazily
// computed, cached values.
//
// A provider declares how to compute one value; a Scope holds the live
// instances. When a factory reads another provider through Watch, the
// runtime records the edge, and any later change to the producer recomputes
// the consumer. Recomputation runs in dependency order, once per node per
// batch, and stops wherever a recomputed value equals its predecessor.
//
// # Declaring Providers
//
// Providers are declared once, typically as package-level variables, and are
// inert until read through a scope:
//
//	var portProvider = provider.New("port", func(r *provider.Ref) int {
//	    return 8080
//	})
//
//	var urlProvider = provider.New("url", func(r *provider.Ref) string {
//	    return fmt.Sprintf("http://localhost:%d", provider.Watch(r, portProvider))
//	})
//
// External state uses NewState, asynchronous work uses NewAsync, and
// stateful objects with mutation methods use NewNotifier.
//
// # Scopes and Overrides
//
// A Scope tree shares one runtime. Child scopes see their ancestors'
// instances except where an override redirects an identity, in which case
// the child materializes its own instances for the overridden provider and
// for everything that transitively reads it:
//
//	root := provider.NewScope()
//	child := root.NewChild(provider.WithOverrides(
//	    provider.OverrideValue(portProvider, 9090),
//	))
//	provider.Read(child, urlProvider) // "http://localhost:9090"
//	provider.Read(root, urlProvider)  // "http://localhost:8080"
//
// # Asynchronous Values
//
// An AsyncProvider settles into an AsyncValue: loading, data, or error.
// Reads never block; Await does. Each recomputation starts a new generation
// and cancels the previous task's context, and completions from superseded
// generations are discarded instead of applied.
//
// # Lifecycle
//
// Instances are created on first read. An AutoDispose instance is torn down
// at the end of any batch in which it has no observers, no dependents, and
// no keep-alive pin; dispose callbacks registered through Ref.OnDispose run
// in reverse registration order. Disposing a scope tears down its children
// and then its own instances in reverse creation order.
//
// # Concurrency
//
// All mutations on one scope tree are serialized through a single runtime
// gate. Factories must interact with the graph only through their Ref;
// calling scope operations from inside a synchronous factory is reported as
// a configuration error rather than deadlocking. Subscription.Current reads
// the latest published snapshot without taking the gate.
package provider
