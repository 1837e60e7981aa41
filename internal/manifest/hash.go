package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashFile returns the hex-encoded SHA-256 digest of the file at path. Used
// to detect whether a stage's input artefact changed since the last run,
// driving the skip decision in [Manifest.ShouldRunStage] and
// [Manifest.ShouldRunSession].
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex-encoded SHA-256 digest of data, used for
// content hashes of in-memory intermediate artefacts before they are
// persisted.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
