// Package session owns per-session conversational state.
//
// A Context carries the ordered message history, accumulated entity facts,
// the current and previous machine states, the detected intent and an open
// metadata bag. The Store keeps an in-process cache in front of a kvstore
// backend, refreshes access timestamps on every read/write, and bounds the
// live message list: once it exceeds the configured maximum the oldest
// messages are folded into a rolling summary (count + time range), so
// per-session state stays bounded regardless of conversation length.
//
// Concurrent turns for different sessions proceed in parallel; turns for
// the same session id are serialized by a per-session mutex, so a
// read-modify-write can never silently drop a concurrent update.
//
//	store := session.NewStore(kvstore.NewMemoryStore(), session.DefaultStoreConfig(), nil)
//	ctx, _ := store.GetOrCreate("sess-1", "user-1", "sales")
//	store.Update("sess-1", func(c *session.Context) {
//	    c.Append(session.Message{Text: "hello", Role: session.RoleUser})
//	})
package session
