// Package fetch downloads the source video for a classification run.
//
// HTTPFetcher performs exactly one streamed GET per call: the body is copied to
// disk through a bounded buffer, non-success statuses and undersized files are
// reported as fetch failures, and nothing is retried. NormalizeSourceURL
// rewrites cloud-storage "view" links into direct-download links before the
// request is made.
package fetch
