// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe against a downloaded video so the transcoder can reject
// containers that cannot be read or carry no audio before ffmpeg is invoked.
// Helper methods on Result pick out the audio streams and parse the numeric
// fields ffprobe reports as strings.
package ffprobe
