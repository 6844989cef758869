// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Hostbridge-consumer calls back into the responder from the legacy
// side. Run as a CGI helper it reads its tokens from
// HTTP_HOSTBRIDGE_SESSION_REF and HTTP_HOSTBRIDGE_COMPONENT_REF; tokens
// can also be given as flags for debugging.
//
//	hostbridge-consumer pull
//	hostbridge-consumer push UserName=ada Visits=3
//	hostbridge-consumer resolve Hostbridge.Request
//	hostbridge-consumer resolve --application Hostbridge.Site
//	hostbridge-consumer status
//	hostbridge-consumer --session-token TOKEN inspect
package main
