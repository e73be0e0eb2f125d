// Package store provides the persisted key-value session store shared by
// every tab of a client.
//
// Each tab opens its own view of a shared backend. Writes made through one
// view are delivered to the Watch channels of every other view as external
// changes; a view never observes its own writes. This mirrors the way a
// browser raises storage events only in tabs other than the writer.
//
// # Backends
//
//   - MemoryBackend: in-process, for tests and single-process use
//   - NATSStore: NATS JetStream KV, for tabs living in separate processes
//
// # Usage
//
//	backend := store.NewMemoryBackend()
//	tabA := backend.Open("tab-a")
//	tabB := backend.Open("tab-b")
//
//	ch, _ := tabB.Watch("*")
//	tabA.Remove("adminToken")
//	change := <-ch // change.Operation == store.OpDelete
package store
