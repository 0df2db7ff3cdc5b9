// Package types contains the shared primitives of the taskmesh
// coordination layer: the structured error taxonomy used by every
// operation boundary, and the versioned task context / progress
// payloads carried across delegations and handoffs.
//
// The types package is the lowest-level package with no internal
// dependencies, so placing these here avoids circular imports.
package types
