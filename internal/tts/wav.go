package tts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// encodeWAV writes mono float32 samples as a 16-bit PCM RIFF file. Used
// for the disk cache so entries survive restarts in a format any tool
// can inspect.
func encodeWAV(pcm []float32, sampleRate int) []byte {
	dataLen := len(pcm) * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range pcm {
		v := int16(math.Round(float64(clampSample(s)) * 32767))
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(v))
	}
	return buf
}

func clampSample(s float32) float32 {
	switch {
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}

// decodeWAV parses 16-bit PCM RIFF audio, mono or stereo; stereo is
// downmixed. This is what the synthesis services return and what the
// cache stores.
func decodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcmData    []byte
		haveFmt    bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			return nil, 0, fmt.Errorf("wav chunk %q overruns file", id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("wav fmt chunk too short")
			}
			format := int(binary.LittleEndian.Uint16(data[body:]))
			if format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			pcmData = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunks are word aligned
		}
	}
	if !haveFmt || pcmData == nil {
		return nil, 0, errors.New("wav missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d", bits)
	}
	if channels != 1 && channels != 2 {
		return nil, 0, fmt.Errorf("unsupported wav channel count %d", channels)
	}

	frames := len(pcmData) / (2 * channels)
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		base := i * 2 * channels
		var sum float32
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(pcmData[base+c*2:]))
			sum += float32(v) / 32768
		}
		out[i] = sum / float32(channels)
	}
	return out, sampleRate, nil
}
