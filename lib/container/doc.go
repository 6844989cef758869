// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package container is the responder's dependency container: an
// explicit map from service names to factories, built once at startup.
//
// Services are registered on a [Builder] with a lifetime:
//
//   - [PerDependency]: a new instance for every resolution.
//   - [PerScope]: one instance per [Scope], shared within it.
//   - [Singleton]: one instance for the application, held by the root.
//
// A [Scope] is a unit of disposal. The root scope lives as long as the
// application; the request lifecycle opens one child scope per request
// and disposes it at request end. Disposal runs registered Release
// functions in reverse creation order. Child scopes are disposed
// before their parent.
//
// Every Scope satisfies boundary.Container, so a scope can sit behind
// a container proxy directly. Owned resolution resolves inside a fresh
// child scope whose disposal is the release action.
package container
