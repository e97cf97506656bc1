// Package memory provides in-process implementations of the message hub
// storage contracts and of the cross-domain bus.
//
// They keep the same conditional-write semantics as the SQL adapters and are
// safe for concurrent use, which makes them suitable for tests, local
// development and single-process deployments.
package memory
