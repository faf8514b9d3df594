// Package kvstore provides the key-value substrate for session persistence
// and the retrieval cache.
//
// The Store interface offers key-value storage with per-key TTL, watch
// notifications and per-key locking across backends (in-memory for tests
// and single-process deployments, NATS JetStream KV for multi-process
// deployments).
//
// # Key Features
//
//   - Key-value operations: Get, Put, Delete with optional TTL
//   - Watch: Subscribe to changes on key patterns
//   - Per-key locks: Acquire/release with automatic expiry, used by the
//     session store to serialize concurrent turns on the same session
//
// # Usage
//
//	// Single process
//	store := kvstore.NewMemoryStore()
//
//	// Multi-process: NATS JetStream KV
//	conn, _ := nats.Connect("nats://localhost:4222")
//	store, _ := kvstore.NewNATSStore(kvstore.NATSStoreConfig{
//	    Conn:   conn,
//	    Bucket: "dialog-sessions",
//	})
//
//	store.Put("session.abc", payload, 0)
//	val, _ := store.Get("session.abc")
//
//	lock, _ := store.Lock("session.abc", 30*time.Second)
//	defer lock.Unlock()
package kvstore
