// Package coordinator keeps the relational message record and the vector
// index consistent across create, edit and delete.
//
// There is no cross-store transaction and no compensation:
//
//   - Create and Update write the relational row first, then the vector.
//     A failure between the two leaves is_vectorized ahead of the index
//     until the call is retried.
//   - Delete removes the vector first, then the row, so a failure never
//     leaves a vector without its row.
//
// Every operation is idempotent by message id; retrying the whole call
// makes the stores converge.
package coordinator
