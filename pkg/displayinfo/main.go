package displayinfo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Kind int

const (
	Internal Kind = iota
	External
)

func (k Kind) String() string {
	if k == Internal {
		return "internal"
	}
	return "external"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Display is one connected output as seen by a single enumeration call.
// ExternalIdentity is only set once a helper session has mapped it.
type Display struct {
	Handle           uint32 `json:"handle"`
	Name             string `json:"name"`
	Kind             Kind   `json:"kind"`
	ExternalIdentity string `json:"external_identity,omitempty"`
}

// ID is the numeric identifier shared with the external helper.
func (d Display) ID() string {
	return strconv.FormatUint(uint64(d.Handle), 10)
}

type Enumerator interface {
	Displays() ([]Display, error)
}

// EnumeratorFunc adapts a plain function to Enumerator.
type EnumeratorFunc func() ([]Display, error)

func (f EnumeratorFunc) Displays() ([]Display, error) { return f() }

var internalPrefixes = []string{"eDP", "LVDS", "DSI"}

// Classify decides the kind of a connector from its name (e.g. "eDP-1").
func Classify(connector string) Kind {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(connector, p) {
			return Internal
		}
	}
	return External
}

// Open returns the enumerator for source: "randr", "drm" or "auto".
func Open(source string) (Enumerator, error) {
	switch source {
	case "randr":
		return NewRandR()
	case "drm":
		return NewDRM(), nil
	case "", "auto":
		if os.Getenv("DISPLAY") != "" {
			if r, err := NewRandR(); err == nil {
				return r, nil
			}
		}
		return NewDRM(), nil
	default:
		return nil, fmt.Errorf("unknown display source %q", source)
	}
}

var BacklightBasePath = "/sys/class/backlight"

// FindBacklight returns the named backlight device, or the first one found.
func FindBacklight(name string) (string, error) {
	if name != "" {
		if _, err := os.Stat(filepath.Join(BacklightBasePath, name)); err != nil {
			return "", err
		}
		return name, nil
	}
	paths, err := filepath.Glob(filepath.Join(BacklightBasePath, "*"))
	if err != nil || len(paths) == 0 {
		return "", errors.New("no backlight devices found")
	}
	return filepath.Base(paths[0]), nil
}

func readInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	return strconv.Atoi(s)
}

// ReadLevel returns the raw and maximum brightness of a backlight device.
func ReadLevel(device string) (current, maxVal int, err error) {
	dir := filepath.Join(BacklightBasePath, device)
	current, err = readInt(filepath.Join(dir, "brightness"))
	if err != nil {
		return 0, 0, err
	}

	maxVal, err = readInt(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return 0, 0, err
	}

	if maxVal <= 0 {
		return 0, 0, errors.New("invalid max_brightness value")
	}
	return current, maxVal, nil
}
