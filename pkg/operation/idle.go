package operation

import (
	"errors"
	"sync"

	"github.com/godbus/dbus/v5"
)

// Idle holds an org.freedesktop.ScreenSaver inhibition so the session keeps
// treating the screen as active while it is dimmed.
type Idle struct {
	mu     sync.Mutex
	conn   *dbus.Conn
	cookie uint32
	held   bool
}

func NewIdle(conn *dbus.Conn) *Idle {
	return &Idle{conn: conn}
}

// Inhibit is a no-op when an inhibition is already held.
func (i *Idle) Inhibit(reason string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.held {
		return nil
	}
	if i.conn == nil {
		return errors.New("idle: no session bus")
	}

	obj := i.conn.Object("org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver")
	var cookie uint32
	err := obj.Call("org.freedesktop.ScreenSaver.Inhibit", 0, "umbra", reason).Store(&cookie)
	if err != nil {
		return err
	}
	i.cookie = cookie
	i.held = true
	return nil
}

func (i *Idle) UnInhibit() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.held {
		return nil
	}

	obj := i.conn.Object("org.freedesktop.ScreenSaver", "/org/freedesktop/ScreenSaver")
	if err := obj.Call("org.freedesktop.ScreenSaver.UnInhibit", 0, i.cookie).Store(); err != nil {
		return err
	}
	i.held = false
	i.cookie = 0
	return nil
}

func (i *Idle) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.held
}
