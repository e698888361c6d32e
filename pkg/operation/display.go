package operation

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/hoppxi/umbra/pkg/brightness"
	"github.com/hoppxi/umbra/pkg/displayinfo"
)

// ErrDriver marks a failed builtin driver call.
var ErrDriver = errors.New("builtin driver error")

// Driver gets and sets the brightness of an internal display synchronously.
type Driver interface {
	Brightness(handle uint32) (brightness.Value, error)
	SetBrightness(handle uint32, v brightness.Value) error
}

// RawWriter stores a raw backlight level.
type RawWriter func(subsystem, device string, raw uint32) error

// LogindWriter sets the level through systemd-logind, which does not need root.
func LogindWriter(conn *dbus.Conn) RawWriter {
	var mu sync.Mutex
	return func(subsystem, device string, raw uint32) error {
		mu.Lock()
		defer mu.Unlock()
		obj := conn.Object("org.freedesktop.login1", "/org/freedesktop/login1/session/auto")
		return obj.Call("org.freedesktop.login1.Session.SetBrightness", 0, subsystem, device, raw).Err
	}
}

// SysfsWriter writes the brightness file directly and needs write access to it.
func SysfsWriter(subsystem, device string, raw uint32) error {
	path := filepath.Join(displayinfo.BacklightBasePath, device, "brightness")
	return os.WriteFile(path, []byte(strconv.FormatUint(uint64(raw), 10)), 0o644)
}

// Backlight drives the internal panel. The level is always read from sysfs.
type Backlight struct {
	Subsystem string
	Device    string
	Write     RawWriter
}

// NewBacklight picks the named device, or the first one under
// /sys/class/backlight when device is empty.
func NewBacklight(device string, write RawWriter) (*Backlight, error) {
	dev, err := displayinfo.FindBacklight(device)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDriver, err)
	}
	return &Backlight{Subsystem: "backlight", Device: dev, Write: write}, nil
}

func (b *Backlight) Brightness(handle uint32) (brightness.Value, error) {
	cur, maxVal, err := displayinfo.ReadLevel(b.Device)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", ErrDriver, b.Device, err)
	}
	return brightness.Clamp(float64(cur) / float64(maxVal)), nil
}

func (b *Backlight) SetBrightness(handle uint32, v brightness.Value) error {
	_, maxVal, err := displayinfo.ReadLevel(b.Device)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrDriver, b.Device, err)
	}
	raw := uint32(math.Round(float64(brightness.Clamp(float64(v))) * float64(maxVal)))
	if err := b.Write(b.Subsystem, b.Device, raw); err != nil {
		return fmt.Errorf("%w: set %s to %d: %v", ErrDriver, b.Device, raw, err)
	}
	return nil
}
