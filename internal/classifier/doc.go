// Package classifier turns a 16 kHz mono WAV file into an accent prediction.
//
// The model is a SpeechBrain EncoderClassifier hosted by a long-lived Python
// worker (launched through uvx) that speaks line-delimited JSON on its
// stdin/stdout. SpeechBrainLoader starts a worker and waits for it to report
// ready; the returned Handle serializes inference calls over the pipe.
//
// Cache keeps one Handle per model id for the life of the process. Concurrent
// first requests for the same id share a single load, and failed loads are
// not remembered so a later request can try again.
package classifier
