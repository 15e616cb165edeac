// Package provision is the request side of the store lifecycle. Service
// validates and admits creation requests, records them as Provisioning and
// hands them to the work queue; it also tears stores down on delete.
// Reconciler re-enqueues stores whose job was lost between the registry
// write and the queue.
package provision
