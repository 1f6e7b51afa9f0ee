package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeader represents the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a decoded WAV file
type WAVInfo struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	NumSamples    int     `json:"num_samples"`
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeWAV decodes a PCM-16 WAV file into mono samples. Multi-channel files
// are downmixed. Chunks other than "fmt " and "data" (LIST, fact, ...) are
// skipped, so files written by common recorders decode as well.
func DecodeWAV(data []byte) ([]int16, *WAVInfo, error) {
	if len(data) < 12 {
		return nil, nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var (
		info     WAVInfo
		haveFmt  bool
		pcm      []byte
		haveData bool
	)

	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			// Truncated recordings keep whatever audio is present.
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, nil, fmt.Errorf("invalid WAV file: fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body:])
			if format != 1 {
				return nil, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", format)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			haveFmt = true
		case "data":
			pcm = data[body:end]
			haveData = true
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}

	if !haveFmt {
		return nil, nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if !haveData {
		return nil, nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	if info.BitsPerSample != 16 {
		return nil, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", info.BitsPerSample)
	}

	if info.Channels < 1 {
		return nil, nil, fmt.Errorf("invalid channel count: %d", info.Channels)
	}

	if info.SampleRate <= 0 {
		return nil, nil, fmt.Errorf("invalid sample rate: %d", info.SampleRate)
	}

	interleaved := make([]int16, len(pcm)/2)
	for i := range interleaved {
		interleaved[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}

	samples := Downmix(interleaved, info.Channels)
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("no audio data found")
	}

	info.NumSamples = len(samples)
	info.Duration = float64(len(samples)) / float64(info.SampleRate)

	return samples, &info, nil
}
