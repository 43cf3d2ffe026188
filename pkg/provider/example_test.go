package provider_test

import (
	"context"
	"fmt"

	"github.com/go-drift/current/pkg/provider"
)

// This example shows how to declare mutable state and read it through a scope.
// State providers are the writable leaves of the graph.
func ExampleNewState() {
	// Declare the provider once, at package level in real code
	count := provider.NewState("count", 0)

	// All reads and writes go through a scope
	scope := provider.NewScope()

	fmt.Printf("initial: %d\n", provider.Read(scope, count))

	// Set replaces the value and recomputes anything watching it
	provider.Set(scope, count, 5)
	fmt.Printf("after set: %d\n", provider.Read(scope, count))

	// Clean up when done
	scope.Dispose()

	// Output:
	// initial: 0
	// after set: 5
}

// This example shows how to derive a value from other providers.
// Watch records the dependency, so the derived provider recomputes
// whenever its inputs change.
func ExampleNew() {
	name := provider.NewState("name", "world")

	greeting := provider.New("greeting", func(r *provider.Ref) string {
		return "Hello, " + provider.Watch(r, name) + "!"
	})

	scope := provider.NewScope()

	fmt.Println(provider.Read(scope, greeting))

	// Changing the input recomputes the greeting
	provider.Set(scope, name, "Go")
	fmt.Println(provider.Read(scope, greeting))

	scope.Dispose()

	// Output:
	// Hello, world!
	// Hello, Go!
}

// This example shows how to subscribe to a provider. The callback fires
// after each batch in which the value actually changed; setting an equal
// value is silent.
func ExampleObserve() {
	count := provider.NewState("count", 0)
	scope := provider.NewScope()

	sub := provider.Observe(scope, count, func(v int) {
		fmt.Printf("count is now %d\n", v)
	})

	provider.Set(scope, count, 1)
	provider.Set(scope, count, 1) // no change, no notification
	provider.Set(scope, count, 2)

	// Close removes the subscription
	sub.Close()
	provider.Set(scope, count, 3)

	scope.Dispose()

	// Output:
	// count is now 1
	// count is now 2
}

// This example shows how to use a provider with a custom equality function.
// This is useful when you want to avoid unnecessary recomputation.
func ExampleWithEquality() {
	type User struct {
		ID   int
		Name string
	}

	// Only treat the value as changed when the user ID changes
	user := provider.NewState("current-user", User{ID: 1, Name: "Alice"},
		provider.WithEquality(func(a, b User) bool {
			return a.ID == b.ID
		}))

	scope := provider.NewScope()

	provider.Observe(scope, user, func(u User) {
		fmt.Printf("user changed: %s\n", u.Name)
	})

	// This won't notify because the ID is the same
	provider.Set(scope, user, User{ID: 1, Name: "Alice Updated"})

	// This will notify because the ID changed
	provider.Set(scope, user, User{ID: 2, Name: "Bob"})

	scope.Dispose()

	// Output:
	// user changed: Bob
}

// This example shows how Batch coalesces several writes into a single
// recomputation and a single notification per changed provider.
func ExampleScope_Batch() {
	first := provider.NewState("first", "Ada")
	last := provider.NewState("last", "Lovelace")

	full := provider.New("full-name", func(r *provider.Ref) string {
		return provider.Watch(r, first) + " " + provider.Watch(r, last)
	})

	scope := provider.NewScope()

	fmt.Println(provider.Read(scope, full))

	provider.Observe(scope, full, func(v string) {
		fmt.Println("changed:", v)
	})

	// Both writes land, but the name recomputes and notifies once
	scope.Batch(func() {
		provider.Set(scope, first, "Grace")
		provider.Set(scope, last, "Hopper")
	})

	scope.Dispose()

	// Output:
	// Ada Lovelace
	// changed: Grace Hopper
}

// This example shows how child scopes override providers. The parent keeps
// its own instance; only reads through the child see the override.
func ExampleScope_NewChild() {
	apiURL := provider.New("api-url", func(r *provider.Ref) string {
		return "https://api.example.com"
	})

	root := provider.NewScope()
	staging := root.NewChild(provider.WithOverrides(
		provider.OverrideValue(apiURL, "https://staging.example.com"),
	))

	fmt.Println("root:", provider.Read(root, apiURL))
	fmt.Println("staging:", provider.Read(staging, apiURL))

	// Disposing the root tears down its children too
	root.Dispose()

	// Output:
	// root: https://api.example.com
	// staging: https://staging.example.com
}

// This example shows an asynchronous provider. Await blocks until the
// factory settles; a plain Read returns the current AsyncValue.
func ExampleNewAsync() {
	user := provider.NewAsync("user", func(ctx context.Context, r *provider.Ref) (string, error) {
		// A real factory would fetch over the network here
		return "alice", nil
	})

	scope := provider.NewScope()

	name, err := provider.Await(context.Background(), scope, user)
	fmt.Println(name, err)

	// After settling, reads observe the data arm
	fmt.Println(provider.Read(scope, user))

	scope.Dispose()

	// Output:
	// alice <nil>
	// Data(alice)
}

// This example shows a provider family: one definition, one instance per
// parameter value.
func ExampleNewFamily() {
	squares := provider.NewFamily("square", func(r *provider.Ref, n int) int {
		return n * n
	})

	scope := provider.NewScope()

	fmt.Println(provider.Read(scope, squares.For(3)))
	fmt.Println(provider.Read(scope, squares.For(5)))

	scope.Dispose()

	// Output:
	// 9
	// 25
}

// counterNotifier is a notifier with domain methods. Embedding NotifierBase
// provides State and SetState.
type counterNotifier struct {
	provider.NotifierBase[int]
}

func (c *counterNotifier) Build(r *provider.Ref) int { return 0 }

func (c *counterNotifier) Increment() {
	c.SetState(c.State() + 1)
}

// This example shows how to expose mutation through methods instead of raw
// Set calls. UseNotifier returns the live notifier object; reading the
// provider returns its current state.
func ExampleNewNotifier() {
	counter := provider.NewNotifier[int]("counter", func() *counterNotifier {
		return &counterNotifier{}
	})

	scope := provider.NewScope()

	c := provider.UseNotifier(scope, counter)
	c.Increment()
	c.Increment()

	fmt.Printf("count: %d\n", provider.Read(scope, counter))

	scope.Dispose()

	// Output:
	// count: 2
}

// This example shows how to release resources when an instance goes away.
// Disposers run on recomputation and on disposal, in reverse registration
// order.
func ExampleRef_OnDispose() {
	conn := provider.New("connection", func(r *provider.Ref) string {
		r.OnDispose(func() {
			fmt.Println("connection closed")
		})
		return "open"
	})

	scope := provider.NewScope()

	fmt.Println(provider.Read(scope, conn))
	scope.Dispose()

	// Output:
	// open
	// connection closed
}
