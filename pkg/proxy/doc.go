// Package proxy implements the HTTP frontend of the shim. It exposes the
// /invocations and /ping endpoints, answers session-management requests
// locally through the protocol interceptor, and reverse-proxies everything
// else to the stateless engine behind it.
package proxy
