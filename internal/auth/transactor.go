// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "context"

// Transactor runs a function inside a single storage transaction.
// Repository calls made with the context passed to fn participate in
// that transaction; fn returning an error rolls everything back. This
// is what makes each engine operation an atomic read-modify-write with
// no observable partial application.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
