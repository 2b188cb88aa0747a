// Package vm executes parsed rexx programs.
//
// This package contains:
//   - Value representation (strings, numbers, records, arrays)
//   - Variable pools and the execution context stack
//   - Internal and external CALL with argument binding
//   - PARSE templates
//   - ADDRESS routing to registered targets, with MATCHING
//   - Trace modes and the bounded trace buffer
//   - RETRY_ON_STALE blocks driven by transient invalidation errors
package vm
