// Package runtime is the case runtime the dispatcher drives.
//
// It implements just enough of a case engine to honor the dispatcher's
// contracts over the SQLite store:
//   - Resume triggers a waiting plan item and consumes its subscriptions
//   - StartAsync inserts a pending case instance and queues its
//     initialization for after the unit of work commits
//   - Run initializes queued instances one at a time
//
// Single-writer initialization:
// Pending instances are initialized by the Run loop in FIFO order. The
// pending row is written inside the caller's unit of work, so the start
// uniqueness check of a concurrent start sees it before initialization.
//
// Logical clock:
// Every stored transition is stamped with Clock.Next(). Wall time is never
// used for ordering.
package runtime
