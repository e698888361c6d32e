package bus

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

// DBusTransport broadcasts requests as the <iface>.Request signal and listens
// for <iface>.Response, each carrying one JSON string argument.
type DBusTransport struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	iface   string
	signals chan *dbus.Signal
	out     chan []byte
	done    chan struct{}
	once    sync.Once
}

func NewDBusTransport(conn *dbus.Conn, path, iface string) (*DBusTransport, error) {
	t := &DBusTransport{
		conn:    conn,
		path:    dbus.ObjectPath(path),
		iface:   iface,
		signals: make(chan *dbus.Signal, 16),
		out:     make(chan []byte, 16),
		done:    make(chan struct{}),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(iface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		return nil, err
	}
	conn.Signal(t.signals)

	go t.pump()
	return t, nil
}

func (t *DBusTransport) pump() {
	defer close(t.out)
	for {
		select {
		case <-t.done:
			return
		case sig := <-t.signals:
			if sig == nil || sig.Name != t.iface+".Response" || len(sig.Body) == 0 {
				continue
			}
			var payload []byte
			switch v := sig.Body[0].(type) {
			case string:
				payload = []byte(v)
			case []byte:
				payload = v
			default:
				continue
			}
			select {
			case t.out <- payload:
			case <-t.done:
				return
			}
		}
	}
}

func (t *DBusTransport) Emit(payload []byte) error {
	return t.conn.Emit(t.path, t.iface+".Request", string(payload))
}

func (t *DBusTransport) Responses() <-chan []byte {
	return t.out
}

func (t *DBusTransport) Close() error {
	var err error
	t.once.Do(func() {
		t.conn.RemoveSignal(t.signals)
		err = t.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(t.iface),
			dbus.WithMatchMember("Response"),
		)
		close(t.done)
	})
	return err
}
