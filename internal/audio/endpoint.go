package audio

import "math"

// Endpointing parameters at 16 kHz with 1024-sample frames (64 ms per
// frame): trigger on a frame above the speech level, keep a short
// pre-roll, close after ~0.5 s of silence. The voiced minimum filters
// out clicks and door slams; mirrors the 200 ms floor recognizers need.
const (
	speechRMSThreshold = 0.015
	preRollFrames      = 3
	hangoverFrames     = 8
	maxUtteranceS      = 10
)

// endpointer segments a continuous sample stream into utterances by
// audio level. Single-owner; the capture loop drives it.
type endpointer struct {
	threshold  float64
	preRoll    int
	hangover   int
	minVoiced  int
	maxSamples int

	history [][]float32
	segment []float32
	voiced  int
	silent  int
	active  bool
}

func newEndpointer(sampleRate int) *endpointer {
	return &endpointer{
		threshold:  speechRMSThreshold,
		preRoll:    preRollFrames,
		hangover:   hangoverFrames,
		minVoiced:  sampleRate / 5,
		maxSamples: sampleRate * maxUtteranceS,
	}
}

// feed consumes one frame and returns a completed utterance, or nil.
func (e *endpointer) feed(frame []float32) []float32 {
	loud := rms(frame) >= e.threshold

	if !e.active {
		if !loud {
			e.history = append(e.history, append([]float32(nil), frame...))
			if len(e.history) > e.preRoll {
				e.history = e.history[1:]
			}
			return nil
		}
		// Trigger: start from the buffered pre-roll so the utterance
		// keeps its onset.
		e.active = true
		e.silent = 0
		e.voiced = 0
		e.segment = e.segment[:0]
		for _, h := range e.history {
			e.segment = append(e.segment, h...)
		}
		e.history = e.history[:0]
	}

	e.segment = append(e.segment, frame...)
	if loud {
		e.silent = 0
		e.voiced += len(frame)
	} else {
		e.silent++
	}

	if e.silent >= e.hangover || len(e.segment) >= e.maxSamples {
		return e.finish()
	}
	return nil
}

// finish closes the current segment, dropping ones with too little
// voiced audio to carry a command.
func (e *endpointer) finish() []float32 {
	seg := e.segment
	voiced := e.voiced
	e.segment = nil
	e.voiced = 0
	e.silent = 0
	e.active = false
	if voiced < e.minVoiced {
		return nil
	}
	return seg
}

// rms is the root mean square level of one frame.
func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
