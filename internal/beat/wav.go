package beat

import (
	"encoding/binary"
	"fmt"
	"io"
)

// pcmSamples is a mono, decoded PCM stream: samples in [-1, 1] and the
// sample rate they were decoded at.
type pcmSamples struct {
	data       []float64
	sampleRate int
}

// decodeWAV reads a canonical PCM WAV file (the uniform codec the
// audio_slice stage re-encodes every input to, per spec.md §4.3 stage 1)
// and downmixes to mono float64. This is a minimal decoder — it trusts
// the input was produced by the pipeline's own audio_slice stage and
// does not attempt to handle arbitrary WAV extensions.
func decodeWAV(r io.Reader) (pcmSamples, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return pcmSamples{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return pcmSamples{}, fmt.Errorf("not a WAV file")
	}

	var (
		sampleRate    uint32
		bitsPerSample uint16
		numChannels   uint16
		pcm           []byte
		haveFmt       bool
	)

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return pcmSamples{}, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			body := make([]byte, chunkSize)
			if _, err := io.ReadFull(r, body); err != nil {
				return pcmSamples{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			numChannels = binary.LittleEndian.Uint16(body[2:4])
			sampleRate = binary.LittleEndian.Uint32(body[4:8])
			bitsPerSample = binary.LittleEndian.Uint16(body[14:16])
			haveFmt = true
		case "data":
			pcm = make([]byte, chunkSize)
			if _, err := io.ReadFull(r, pcm); err != nil {
				return pcmSamples{}, fmt.Errorf("read data chunk: %w", err)
			}
		default:
			if _, err := io.CopyN(io.Discard, r, int64(chunkSize)); err != nil {
				return pcmSamples{}, fmt.Errorf("skip chunk %s: %w", chunkID, err)
			}
		}
		if chunkSize%2 == 1 {
			var pad [1]byte
			_, _ = io.ReadFull(r, pad[:])
		}
	}

	if !haveFmt || pcm == nil {
		return pcmSamples{}, fmt.Errorf("wav file missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return pcmSamples{}, fmt.Errorf("unsupported bits per sample: %d", bitsPerSample)
	}
	if numChannels == 0 {
		numChannels = 1
	}

	frameCount := len(pcm) / 2 / int(numChannels)
	out := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum float64
		for c := 0; c < int(numChannels); c++ {
			idx := (i*int(numChannels) + c) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float64(s) / 32768.0
		}
		out[i] = sum / float64(numChannels)
	}

	return pcmSamples{data: out, sampleRate: int(sampleRate)}, nil
}
