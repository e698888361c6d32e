package displayinfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DRM lists connected connectors from sysfs. It works without an X server,
// which makes it the fallback for Wayland sessions.
type DRM struct {
	Root string
}

func NewDRM() *DRM {
	return &DRM{Root: "/sys/class/drm"}
}

func (d *DRM) Displays() ([]Display, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, fmt.Errorf("list drm nodes: %w", err)
	}

	var displays []Display
	for _, e := range entries {
		// connectors look like card0-eDP-1, the bare card0 is the device
		card, connector, ok := strings.Cut(e.Name(), "-")
		if !ok || !strings.HasPrefix(card, "card") {
			continue
		}
		dir := filepath.Join(d.Root, e.Name())

		status, err := os.ReadFile(filepath.Join(dir, "status"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s status: %w", e.Name(), err)
		}
		if strings.TrimSpace(string(status)) != "connected" {
			continue
		}

		id, err := readInt(filepath.Join(dir, "connector_id"))
		if err != nil {
			continue // kernels before 5.x do not expose it
		}

		displays = append(displays, Display{
			Handle: uint32(id),
			Name:   connector,
			Kind:   Classify(connector),
		})
	}

	sort.Slice(displays, func(i, j int) bool {
		return displays[i].Handle < displays[j].Handle
	})
	return displays, nil
}

// String is used in log lines.
func (d *DRM) String() string {
	return "drm:" + d.Root
}
