package audit

import (
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"os"
)

// deterministicSeed mirrors internal/platformclient's and internal/media's
// seeding scheme so repeated runs for the same source are byte-identical,
// never random (spec §9).
func deterministicSeed(seed string) uint32 {
	sum := sha1.Sum([]byte(seed))
	return binary.BigEndian.Uint32(sum[:4])
}

// deterministicFrame stands in for ffmpeg frame extraction: no video
// decoding is available in this environment, so it writes a small
// placeholder file whose content is a pure function of the source path and
// frame index.
func deterministicFrame(path, sourcePath string, index int) error {
	seed := deterministicSeed(fmt.Sprintf("%s#%d", sourcePath, index))
	body := fmt.Sprintf("synthetic-frame:%s:%d:%d", sourcePath, index, seed)
	return os.WriteFile(path, []byte(body), 0o644)
}

// deterministicAudioExtract stands in for ffmpeg audio extraction.
func deterministicAudioExtract(audioPath, sourcePath string) error {
	seed := deterministicSeed(sourcePath)
	body := fmt.Sprintf("synthetic-audio:%s:%d", sourcePath, seed)
	return os.WriteFile(audioPath, []byte(body), 0o644)
}
