package probe

import (
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// HashImage returns the blake3 hex digest of the file at path. Bare image
// runs use it as the content hash in place of the snapshot hash.
func HashImage(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &Error{Image: path, Reason: "cannot open image", Err: err}
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", &Error{Image: path, Reason: "cannot read image", Err: err}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
