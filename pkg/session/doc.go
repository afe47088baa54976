// Package session implements TTL-scoped stateful sessions for an otherwise
// stateless inference engine. Each session owns a directory under a shared
// storage root; every stored value is one JSON-encoded file inside it.
//
// Invariants:
// - Every per-key file path goes through a sanitizer that rejects traversal.
// - Directory deletion and registry removal happen together under one lock.
// - Expiration is lazy: sweeps run at the start of CreateSession (and via an
//   optional background sweeper), never on value access.
//
// Usage:
//
//	mgr, _ := session.NewManager(session.Options{Expiration: 20 * time.Minute})
//	s, _ := mgr.CreateSession(ctx)
//	_ = s.Put("history", []string{"hello"})
//	v, ok, _ := s.Get("history")
//	_ = v
//	_ = ok
package session
