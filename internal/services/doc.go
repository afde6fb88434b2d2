// Package services defines the error taxonomy and context helpers shared by
// the pipeline stages and both front ends.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Sentinel markers plus the Wrap helper, so a failure anywhere in the
//     fetch, transcode, load, classify chain can be recognised with errors.Is
//     and reported with a stable kind and operator hint.
package services
