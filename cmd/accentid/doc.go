// Package main hosts the accentid CLI entrypoint and command graph.
//
// The Cobra command tree resolves configuration, wires the fetch, transcode,
// and classify pipeline, and exposes it as a one-shot classify command and a
// long-running web form server. Model and status commands report on the
// cached classifier artifacts and the external tools the pipeline shells out
// to.
//
// Keep this package thin: behavior lives in internal packages and commands
// only translate flags and render output.
package main
