// Package transcode extracts the classifier's input audio from a downloaded
// video.
//
// FFmpegTranscoder probes the container with ffprobe, rejects files without an
// audio track, converts the first audio stream to 16 kHz mono signed 16-bit
// PCM WAV with ffmpeg, and verifies the written header before reporting
// success. Every failure is tagged with services.ErrTranscode.
package transcode
