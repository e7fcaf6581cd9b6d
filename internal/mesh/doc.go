// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

/*
Package mesh holds the shared global learning state and the registry of
cooperating learning nodes that contribute micro-adjustments to it.

# Contributions

Every contribution targets one Domain. Contributions whose value maps share
at least one key with another pending contribution of the same domain form
a conflict group, which is resolved in one step:

  - similar confidences (all within the similarity tolerance of the group
    mean) are merged with a confidence-weighted sum normalized by the total
    confidence; the applied confidence is min(1, total/n)
  - diverging confidences are averaged value by value and applied with the
    mean confidence

Contributions without a conflict apply immediately and stay pending, so a
later contribution sharing a key conflicts with them however much later it
arrives. Only the per-domain cap, or an optional pending TTL, removes them. Applying a map to a
domain interpolates every key: new = old*(1-c) + v*c.

# Concurrency

Each domain is an immutable snapshot behind an atomic pointer and is
updated with a compare-and-swap loop, so readers never block. The pending
set and the resolution log share a single mutex that is never held across
I/O.

# Idempotence

Adjustment ids are recorded in a Ledger before application. Replaying an
id returns ErrDuplicateAdjustment without touching state, and a
contribution with zero confidence is the identity.

# Peers

When a Peer is attached, locally sourced contributions and shared
contexts are published to it. NATSPeer carries them over core NATS
subjects through watermill and feeds remote ones back through Receive.
*/
package mesh
