// Package state provides the durable key-value store backing session
// records.
//
// The Store interface is the external collaborator the exchange ledger
// persists through: whole-document get/put by key, pattern listing, and a
// per-key lock that serializes read-modify-write cycles on one session.
//
// Backends:
//
//   - MemoryStore: in-process, for tests and single-process orchestrators
//   - BoltStore: bbolt file, durable single-node storage
//   - NATSStore: NATS JetStream KV, for multiple orchestrator processes
//     sharing sessions (locks live in the bucket so other writers see them)
//
// Usage:
//
//	store, _ := state.NewBoltStore("sessions.db")
//	defer store.Close()
//
//	lock, _ := store.Lock("comm.s1", 30*time.Second)
//	defer lock.Unlock()
//	doc, _ := store.Get("comm.s1")
//	// ... modify and Put ...
package state
