// Package deploy defines the deployment driver the worker and the delete
// path use to materialize and remove a store's cluster-side resources, and
// a Helm implementation that shells out to helm and kubectl.
package deploy
