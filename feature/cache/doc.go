// Package cache exposes the index reconciliation engine to remote peers.
//
// The Service is the engine facade: point and batched existence checks,
// metadata lookup, content transfer through the backing store, upload
// recording, refresh triggering and status. The Handler maps it onto HTTP
// endpoints mirroring the classic LAN cache protocol (/exists,
// /exists_batch, /get, /put, /health, /refresh).
package cache
