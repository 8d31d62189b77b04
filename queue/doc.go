// Package queue inserts batches of wire tasks into a queueing backend.
// The Inserter absorbs the backend's transient-failure signal by adaptively
// splitting a failed batch and retrying the halves, bounding backend load
// under sustained failure while guaranteeing every task is attempted at
// least once. Concrete backends live in the queuehttp and queuepg
// subpackages.
package queue
