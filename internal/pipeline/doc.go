// Package pipeline runs one classification end to end: normalize the source
// URL, fetch the video into a private workspace, extract a mono 16 kHz track,
// obtain the shared classifier and run inference. The workspace is released
// on every exit path.
//
// Each stage is consumed through a small interface declared here so front
// ends can wire real implementations and tests can wire fakes.
package pipeline
