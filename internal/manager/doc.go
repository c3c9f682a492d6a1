// Package manager keeps loaded models in per-category pools and routes
// requests to them. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, model listing, Close.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: Slot, Lease, and the Catalog/Resolver/BackendFactory seams.
//   - errors.go: error types and predicates (IsCapacityExceeded, IsNPUConflict, ...).
//   - ensure.go: Load/GetOrLoad; capacity reservation and backend start.
//   - evict.go: pools, victim selection, and stopping evicted slots.
//   - admission.go: Acquire/Release reference counting.
//   - inference.go: Forward/ForwardStream and last-request stats.
//   - unload.go: draining Unload and UnloadAll.
//   - status_report.go: Status, List, and Health views.
//   - ops.go: catalog edits (Pull, Delete).
//
// Invariants kept under the manager mutex: a pool never holds more slots
// than its capacity (loading slots count), at most one slot holds the NPU,
// and a slot with references is never evicted.
package manager
