// Package errors provides standardized error handling for visionstream
// components. Errors are classified as transient, invalid, or fatal so that
// pipeline loops can decide whether to retry, drop the offending item, or
// stop the process. Helper functions wrap errors with component/operation
// context in a consistent "component.method: action failed" format.
package errors
