package helper

import (
	"os/exec"

	"github.com/godbus/dbus/v5"
)

type Presence interface {
	Installed() bool
	Running() bool
}

// BusPresence finds the helper binary on PATH and checks that its well-known
// name is owned on the session bus.
type BusPresence struct {
	conn    *dbus.Conn
	binary  string
	busName string
}

func NewBusPresence(conn *dbus.Conn, binary, busName string) *BusPresence {
	return &BusPresence{conn: conn, binary: binary, busName: busName}
}

func (p *BusPresence) Installed() bool {
	if p.binary == "" {
		return true
	}
	_, err := exec.LookPath(p.binary)
	return err == nil
}

func (p *BusPresence) Running() bool {
	var owned bool
	err := p.conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, p.busName).Store(&owned)
	return err == nil && owned
}

// StaticPresence is a fixed answer, for tests and for helpers that are
// always reachable.
type StaticPresence struct {
	IsInstalled bool
	IsRunning   bool
}

func (p StaticPresence) Installed() bool { return p.IsInstalled }
func (p StaticPresence) Running() bool   { return p.IsRunning }
