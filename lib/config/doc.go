// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads hostbridge configuration.
//
// Configuration is loaded from a single file named by either the
// HOSTBRIDGE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). Files ending in .json or .jsonc are read as
// JSON with comments and trailing commas; everything else is YAML.
// There is no search path and no fallback file.
//
// The file may carry development, staging, and production sections
// that override base values when [Config].Environment matches.
//
// ${VAR} and ${VAR:-default} patterns are expanded in path and address
// fields after loading. ${HOSTBRIDGE_RUNTIME} refers to the runtime
// directory used for default socket paths.
//
// This package depends on no other hostbridge packages.
package config
