// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Hostbridge-responder fronts a legacy web application. Requests for
// legacy pages get a session token and a component token in
// side-channel headers before they are proxied upstream; the legacy
// code calls back over the endpoint socket to read and write the
// session and to resolve services.
package main
