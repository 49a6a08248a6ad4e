// Package loader builds synthesized operation sets into live versions and
// owns the active one.
//
// Key behaviors:
//   - A load is built completely off to the side (parse, synthesize, compile,
//     resolve) before the registry is touched.
//   - Swapping in a new version is a single pointer replace under the write
//     lock; callers acquire leases under the read lock.
//   - A superseded version drains: it stays alive until its last lease is
//     released, then its interpreter is dropped.
//   - A failed load never disturbs the active version.
//   - Progress is reported synchronously and in order for every load.
package loader
