package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/converge-sh/converge/internal/spec"
)

// DiskFileProbe hashes files on the local filesystem.
type DiskFileProbe struct{}

func (DiskFileProbe) Hash(path string) (Observation, error) {
	obs := Observation{CheckedAt: time.Now()}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return obs, nil
	}
	if err != nil {
		return obs, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return obs, err
	}
	obs.Present = true
	obs.Digest = "sha256:" + hex.EncodeToString(h.Sum(nil))
	return obs, nil
}

// DigestBytes hashes in-memory content in the same sha256:<hex> form as
// on-disk files, so desired and observed digests compare directly.
func DigestBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// DesiredFileContent resolves the content a file unit wants on disk.
func DesiredFileContent(u *spec.Unit) ([]byte, error) {
	if u.Content != "" {
		return []byte(u.Content), nil
	}
	return os.ReadFile(u.Source)
}

// DesiredFileDigest returns the digest a file unit's path should have.
func DesiredFileDigest(u *spec.Unit) (string, error) {
	data, err := DesiredFileContent(u)
	if err != nil {
		return "", err
	}
	return DigestBytes(data), nil
}
