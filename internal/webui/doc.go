// Package webui serves the browser form and a small JSON API on top of the
// classification pipeline. Each request runs one pipeline synchronously; the
// only state shared between requests is the classifier cache behind the
// Runner.
package webui
