package whisper

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// readWAVFloat32Mono reads a canonical PCM WAV file and returns its samples
// as mono float32 in [-1.0, 1.0] together with the file's sample rate.
// Only 16-bit PCM, mono or multi-channel, is supported; multi-channel input
// is down-mixed by averaging.
func readWAVFloat32Mono(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var riffHeader [12]byte
	if _, err := io.ReadFull(f, riffHeader[:]); err != nil {
		return nil, 0, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		pcm           []byte
	)

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(f, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, 0, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			fmtBody := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, fmtBody); err != nil {
				return nil, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			channels = int(binary.LittleEndian.Uint16(fmtBody[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fmtBody[4:8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(fmtBody[14:16]))

		case "data":
			pcm = make([]byte, chunkSize)
			if _, err := io.ReadFull(f, pcm); err != nil {
				return nil, 0, fmt.Errorf("read data chunk: %w", err)
			}

		default:
			if _, err := io.CopyN(io.Discard, f, int64(chunkSize)); err != nil {
				return nil, 0, fmt.Errorf("skip chunk %q: %w", chunkID, err)
			}
		}

		if chunkSize%2 == 1 {
			if _, err := io.CopyN(io.Discard, f, 1); err != nil {
				break
			}
		}
	}

	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bits-per-sample %d, expected 16", bitsPerSample)
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("no data chunk found")
	}

	return pcmToFloat32Mono(pcm, channels), sampleRate, nil
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// pcmToFloat32Mono down-mixes multi-channel 16-bit PCM to mono float32 by
// averaging all channels per frame. If channels is 1 this is equivalent to
// pcmToFloat32.
func pcmToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 1 {
		return pcmToFloat32(pcm)
	}
	samplesPerChannel := len(pcm) / (2 * channels)
	mono := make([]float32, samplesPerChannel)
	for i := range samplesPerChannel {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(pcm[idx : idx+2]))
			sum += float32(sample) / 32768.0
		}
		mono[i] = sum / float32(channels)
	}
	return mono
}
