package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	riffHeaderSize  = 12
	chunkHeaderSize = 8
	byteRateOffset  = 8
	minFmtChunkSize = 16
)

// Errors reported while reading a WAV header.
var (
	ErrNotWAV       = errors.New("not a RIFF/WAVE file")
	ErrMissingChunk = errors.New("missing fmt or data chunk")
)

// WAVDuration computes the duration of a PCM WAV file from its fmt and data chunks.
func WAVDuration(path string) (float64, error) {
	file, err := os.Open(path) // #nosec G304 -- path is produced by the service
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	header := make([]byte, riffHeaderSize)

	_, err = io.ReadFull(file, header)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return 0, ErrNotWAV
	}

	var (
		byteRate uint32
		dataSize uint32
		haveFmt  bool
		haveData bool
	)

	chunkHeader := make([]byte, chunkHeaderSize)
	fmtBody := make([]byte, minFmtChunkSize)

	for !haveFmt || !haveData {
		_, err = io.ReadFull(file, chunkHeader)
		if err != nil {
			break
		}

		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])
		skip := int64(chunkSize)

		switch chunkID {
		case "fmt ":
			if chunkSize < minFmtChunkSize {
				return 0, ErrMissingChunk
			}

			_, err = io.ReadFull(file, fmtBody)
			if err != nil {
				return 0, fmt.Errorf("failed to read fmt chunk: %w", err)
			}

			byteRate = binary.LittleEndian.Uint32(fmtBody[byteRateOffset : byteRateOffset+4])
			haveFmt = true
			skip -= minFmtChunkSize
		case "data":
			dataSize = chunkSize
			haveData = true
		}

		// Chunks are word aligned.
		skip += int64(chunkSize % 2)

		_, err = file.Seek(skip, io.SeekCurrent)
		if err != nil {
			break
		}
	}

	if !haveFmt || !haveData || byteRate == 0 {
		return 0, ErrMissingChunk
	}

	return float64(dataSize) / float64(byteRate), nil
}
