// Package modelstore keeps a small SQLite manifest of the classification
// models this machine has prepared: where their artifacts live, which labels
// they expose, and how long the last load took.
//
// The manifest is informational. The cache in package classifier never
// consults it to decide whether a model is loaded; it backs the `model list`
// command and the web server's health payload.
package modelstore
