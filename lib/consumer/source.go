// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package consumer

import (
	"net/http"
	"os"
	"strings"
)

// Source reads one side-channel field.
type Source interface {
	Value(field string) (string, bool)
}

// HeaderSource reads fields from forwarded request headers.
type HeaderSource http.Header

func (h HeaderSource) Value(field string) (string, bool) {
	values := http.Header(h).Values(field)
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// EnvSource reads fields from CGI-style variables, where header
// Hostbridge-Session-Ref arrives as HTTP_HOSTBRIDGE_SESSION_REF.
// lookup has the signature of os.LookupEnv.
func EnvSource(lookup func(string) (string, bool)) Source {
	return envSource(lookup)
}

// ProcessEnv reads the current process environment.
func ProcessEnv() Source { return envSource(os.LookupEnv) }

type envSource func(string) (string, bool)

func (e envSource) Value(field string) (string, bool) {
	return e(CGIName(field))
}

// CGIName converts a header name to its CGI variable name.
func CGIName(field string) string {
	return "HTTP_" + strings.ToUpper(strings.ReplaceAll(field, "-", "_"))
}
