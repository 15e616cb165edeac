// Package worker is the provisioning consumer. It takes jobs off the work
// queue, applies each store's deployment through a deploy.Driver with a
// bounded timeout, and records exactly one terminal status per store.
// Redelivered jobs for stores that already finished are acknowledged
// without running the deployment again.
package worker
