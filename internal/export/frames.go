package export

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ReadFrame loads an image reference relative to a run workspace root.
// References that leave the root are rejected.
func ReadFrame(root, ref string) ([]byte, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "..") {
		return nil, fmt.Errorf("invalid image reference %q", ref)
	}
	return os.ReadFile(filepath.Join(root, filepath.FromSlash(clean)))
}
