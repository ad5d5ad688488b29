package recording

import (
	"encoding/binary"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

const (
	bitDepth       = 16
	wavFormatPCM   = 1
	segmentPattern = "segment-*.wav"
)

// writeSegment encodes mono S16LE PCM as a WAV file in dir and returns its path.
func writeSegment(dir string, pcm []byte) (path string, err error) {
	f, err := os.CreateTemp(dir, segmentPattern)
	if err != nil {
		return "", util.WrapError("create segment file", err)
	}
	path = f.Name()
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(path)
		}
	}()

	enc := wav.NewEncoder(f, types.SampleRate, bitDepth, types.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: types.Channels, SampleRate: types.SampleRate},
		Data:           pcmToInts(pcm),
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return "", fmt.Errorf("encode segment: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("finalize segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", util.WrapError("close segment file", err)
	}
	return path, nil
}

func pcmToInts(pcm []byte) []int {
	out := make([]int, len(pcm)/types.BytesPerSample)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	return out
}
