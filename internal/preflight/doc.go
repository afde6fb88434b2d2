// Package preflight provides readiness checks for the filesystem paths and
// remote services accentid depends on.
//
// The CLI "accentid status" command and the web server's /healthz endpoint
// both use RunAll. Checks never modify state; directories that do not exist
// yet are reported, not created.
package preflight
