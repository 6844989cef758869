// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bureau-foundation/hostbridge/lib/boundary"
)

type connection struct {
	id     int64
	closed atomic.Bool
}

type repository struct {
	conn *connection
}

// fixture builds a container with a singleton clock, a per-scope
// connection and a per-dependency repository using the connection.
type fixture struct {
	container *Container
	created   atomic.Int64

	mu     sync.Mutex
	closed []string
}

func (f *fixture) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, name)
}

func (f *fixture) closedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{}
	builder := NewBuilder(slog.New(slog.NewTextHandler(io.Discard, nil)))

	builder.Register(Registration{
		Service:  "Acme.Clock",
		Lifetime: Singleton,
		Factory:  func(*Scope) (any, error) { return "clock", nil },
	})
	builder.Register(Registration{
		Service:  "Acme.Data.Connection",
		Lifetime: PerScope,
		Factory: func(*Scope) (any, error) {
			return &connection{id: f.created.Add(1)}, nil
		},
		Release: func(instance any) error {
			instance.(*connection).closed.Store(true)
			f.record("connection")
			return nil
		},
	})
	builder.Register(Registration{
		Service:  "repository",
		FullName: "Acme.Data.IRepository",
		Lifetime: PerDependency,
		Factory: func(scope *Scope) (any, error) {
			conn, err := scope.Resolve("Acme.Data.Connection")
			if err != nil {
				return nil, err
			}
			return &repository{conn: conn.(*connection)}, nil
		},
		Release: func(any) error {
			f.record("repository")
			return nil
		},
	})
	builder.Register(Registration{
		Service:  "Acme.Data.Connection",
		Name:     "reporting",
		Lifetime: Singleton,
		Factory:  func(*Scope) (any, error) { return &connection{id: -1}, nil },
	})
	builder.Register(Registration{
		Service:  "broken",
		Lifetime: PerDependency,
		Factory: func(scope *Scope) (any, error) {
			return scope.Resolve("missing.Dependency")
		},
	})

	container, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	f.container = container
	return f
}

func TestBuildRejectsBadRegistrations(t *testing.T) {
	factory := func(*Scope) (any, error) { return nil, nil }
	tests := []struct {
		name          string
		registrations []Registration
	}{
		{"missing service", []Registration{{Factory: factory}}},
		{"missing factory", []Registration{{Service: "a"}}},
		{"bad lifetime", []Registration{{Service: "a", Factory: factory, Lifetime: Lifetime(9)}}},
		{"duplicate", []Registration{
			{Service: "a", Factory: factory},
			{Service: "a", Factory: factory},
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			builder := NewBuilder(nil)
			for _, registration := range test.registrations {
				builder.Register(registration)
			}
			if _, err := builder.Build(); err == nil {
				t.Fatal("Build succeeded")
			}
		})
	}

	// Same service under two names is not a duplicate.
	builder := NewBuilder(nil).
		Register(Registration{Service: "a", Factory: factory}).
		Register(Registration{Service: "a", Name: "other", Factory: factory})
	if _, err := builder.Build(); err != nil {
		t.Fatalf("named registration rejected: %v", err)
	}
}

func TestLifetimes(t *testing.T) {
	f := newFixture(t)
	first := f.container.BeginScope()
	second := f.container.BeginScope()

	clockA, _ := first.Resolve("Acme.Clock")
	clockB, _ := second.Resolve("Acme.Clock")
	if clockA != clockB {
		t.Error("singleton differs between scopes")
	}

	connA1, err := first.Resolve("Acme.Data.Connection")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	connA2, _ := first.Resolve("Acme.Data.Connection")
	connB, _ := second.Resolve("Acme.Data.Connection")
	if connA1 != connA2 {
		t.Error("per-scope instance differs within one scope")
	}
	if connA1 == connB {
		t.Error("per-scope instance shared across scopes")
	}

	repo1, _ := first.Resolve("repository")
	repo2, _ := first.Resolve("repository")
	if repo1 == repo2 {
		t.Error("per-dependency instances are the same")
	}
	if repo1.(*repository).conn != connA1 {
		t.Error("repository did not receive the scope's connection")
	}
}

func TestDisposeReleasesInReverseOrder(t *testing.T) {
	f := newFixture(t)
	scope := f.container.BeginScope()

	repo, err := scope.Resolve("repository")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	conn := repo.(*repository).conn

	if err := scope.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if !conn.closed.Load() {
		t.Error("connection not released")
	}
	// The connection was created first, inside the repository factory.
	order := f.closedOrder()
	if len(order) != 2 || order[0] != "repository" || order[1] != "connection" {
		t.Errorf("release order = %v, want [repository connection]", order)
	}

	if err := scope.Dispose(); err != nil {
		t.Errorf("second Dispose: %v", err)
	}
	if len(f.closedOrder()) != 2 {
		t.Error("second Dispose released again")
	}
	if _, err := scope.Resolve("Acme.Clock"); !errors.Is(err, ErrScopeDisposed) {
		t.Errorf("Resolve after Dispose = %v, want ErrScopeDisposed", err)
	}
	if !errors.Is(ErrScopeDisposed, boundary.ErrTargetUnavailable) {
		t.Error("ErrScopeDisposed does not match boundary.ErrTargetUnavailable")
	}
}

func TestDisposeParentDisposesChildren(t *testing.T) {
	f := newFixture(t)
	parent := f.container.BeginScope()
	child := parent.BeginScope()

	conn, err := child.Resolve("Acme.Data.Connection")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := parent.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if !child.Disposed() || !conn.(*connection).closed.Load() {
		t.Error("child scope survived its parent")
	}
	if !parent.BeginScope().Disposed() {
		t.Error("child of a disposed scope is usable")
	}
}

func TestDisposeCollectsFailures(t *testing.T) {
	builder := NewBuilder(nil)
	released := 0
	for i, failure := range []string{"error", "panic", "ok"} {
		builder.Register(Registration{
			Service:  fmt.Sprintf("service-%d", i),
			Lifetime: PerScope,
			Factory:  func(*Scope) (any, error) { return failure, nil },
			Release: func(any) error {
				released++
				switch failure {
				case "error":
					return errors.New("close failed")
				case "panic":
					panic("close exploded")
				}
				return nil
			},
		})
	}
	container, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	scope := container.BeginScope()
	for i := range 3 {
		if _, err := scope.Resolve(fmt.Sprintf("service-%d", i)); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	err = scope.Dispose()
	if err == nil {
		t.Fatal("Dispose hid release failures")
	}
	if released != 3 {
		t.Errorf("released %d instances, want 3", released)
	}
}

func TestBoundaryContainerContract(t *testing.T) {
	f := newFixture(t)
	scope := f.container.BeginScope()

	if !scope.KnowsType("Acme.Clock") {
		t.Error("KnowsType missed a registered key")
	}
	if scope.KnowsType("Acme.Data.IRepository") {
		t.Error("KnowsType matched a full name that is not a key")
	}

	var found bool
	for _, descriptor := range scope.Services() {
		if descriptor.FullName == "Acme.Data.IRepository" && descriptor.Service == "repository" {
			found = true
		}
	}
	if !found {
		t.Error("Services() does not list the repository full name")
	}

	if _, err := scope.ResolveRequired("missing"); !errors.Is(err, boundary.ErrServiceNotFound) {
		t.Errorf("ResolveRequired(missing) = %v, want ErrServiceNotFound", err)
	}
	value, present, err := scope.ResolveOptional("missing")
	if err != nil || present || value != nil {
		t.Errorf("ResolveOptional(missing) = (%v, %v, %v)", value, present, err)
	}
	if _, _, err := scope.ResolveOptional("broken"); err == nil {
		t.Error("ResolveOptional hid a missing dependency of a registered service")
	}

	named, err := scope.ResolveNamed("reporting", "Acme.Data.Connection")
	if err != nil {
		t.Fatalf("ResolveNamed: %v", err)
	}
	if named.(*connection).id != -1 {
		t.Error("named resolution returned the default registration")
	}
	if _, err := scope.ResolveNamed("archive", "Acme.Data.Connection"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("unknown name = %v, want ErrNotRegistered", err)
	}
}

func TestProxyResolvesThroughScope(t *testing.T) {
	f := newFixture(t)
	scope := f.container.BeginScope()
	proxy := boundary.NewContainerProxy(0, func() (boundary.Container, error) { return scope, nil }, boundary.Options{})

	value, err := proxy.Resolve("Acme.Data.IRepository")
	if err != nil {
		t.Fatalf("Resolve by full name: %v", err)
	}
	if _, ok := value.(*repository); !ok {
		t.Errorf("resolved %T", value)
	}
}

func TestResolveOwned(t *testing.T) {
	f := newFixture(t)
	scope := f.container.BeginScope()

	scopeConn, _ := scope.Resolve("Acme.Data.Connection")

	value, release, err := scope.ResolveOwned("repository")
	if err != nil {
		t.Fatalf("ResolveOwned: %v", err)
	}
	ownedConn := value.(*repository).conn
	if ownedConn == scopeConn {
		t.Error("owned resolution shared the parent scope's per-scope instance")
	}

	release()
	release()
	if !ownedConn.closed.Load() {
		t.Error("owned release did not dispose the owned scope")
	}
	if scopeConn.(*connection).closed.Load() {
		t.Error("owned release disposed the parent scope's instance")
	}

	if _, _, err := scope.ResolveOwned("missing"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("ResolveOwned(missing) = %v", err)
	}
}

func TestProvide(t *testing.T) {
	f := newFixture(t)
	request := f.container.BeginScope()
	if err := request.Provide("http.Request", "GET /cart.asp"); err != nil {
		t.Fatalf("Provide: %v", err)
	}
	child := request.BeginScope()

	value, err := child.Resolve("http.Request")
	if err != nil || value != "GET /cart.asp" {
		t.Errorf("provided value through child = (%v, %v)", value, err)
	}
	if !child.KnowsType("http.Request") {
		t.Error("KnowsType misses provided values")
	}
	if _, err := f.container.Root().Resolve("http.Request"); err == nil {
		t.Error("provided value leaked to the root scope")
	}

	request.Dispose()
	if err := request.Provide("late", 1); !errors.Is(err, ErrScopeDisposed) {
		t.Errorf("Provide after Dispose = %v", err)
	}
}

func TestConcurrentSingletonResolution(t *testing.T) {
	var created atomic.Int64
	var released atomic.Int64
	container, err := NewBuilder(nil).Register(Registration{
		Service:  "shared",
		Lifetime: Singleton,
		Factory: func(*Scope) (any, error) {
			return created.Add(1), nil
		},
		Release: func(any) error {
			released.Add(1)
			return nil
		},
	}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	results := make(chan any, 64)
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scope := container.BeginScope()
			defer scope.Dispose()
			value, err := scope.Resolve("shared")
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			results <- value
		}()
	}
	wg.Wait()
	close(results)

	var first any
	for value := range results {
		if first == nil {
			first = value
		} else if value != first {
			t.Fatalf("singleton resolved to %v and %v", first, value)
		}
	}
	// Losing racers are released immediately; the winner stays.
	if created.Load()-released.Load() != 1 {
		t.Errorf("created %d, released %d: want exactly one live singleton", created.Load(), released.Load())
	}
	container.Dispose()
	if released.Load() != created.Load() {
		t.Error("root disposal did not release the singleton")
	}
}
