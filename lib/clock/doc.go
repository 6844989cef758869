// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the current time so that code with idle
// timeouts and timestamps can be tested deterministically.
//
// Production code injects [Real]; tests inject [Fake] and move time
// forward explicitly with Advance. Nothing in hostbridge sleeps or
// schedules timers, so the interface is deliberately only Now.
package clock
