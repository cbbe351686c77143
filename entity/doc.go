// Package entity models the edge system, its devices and their metrics.
//
// Entities are immutable records created by the application. Registering one
// with a DCC yields a *Registered handle carrying the cloud id. Handles form a
// tree through Attach: the edge system at the root, devices below it, metrics
// as leaves under either.
//
// A metric has no cloud identity of its own. Its handle starts unlinked with an
// empty id and takes the parent's id when attached. Metric handles also own the
// sample queue drained by the batch formatter.
//
// Kind is a closed set; code that treats metrics differently switches on it.
package entity
