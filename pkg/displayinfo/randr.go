package displayinfo

import (
	"fmt"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
)

// RandR lists X11 outputs that are connected and driven by a CRTC.
type RandR struct {
	mu   sync.Mutex
	conn *xgb.Conn
	root xproto.Window
}

func NewRandR() (*RandR, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, err
	}
	if err := randr.Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("randr: %w", err)
	}
	return &RandR{
		conn: conn,
		root: xproto.Setup(conn).DefaultScreen(conn).Root,
	}, nil
}

func (r *RandR) Displays() ([]Display, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resources, err := randr.GetScreenResources(r.conn, r.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("get screen resources: %w", err)
	}

	var displays []Display
	for _, output := range resources.Outputs {
		info, err := randr.GetOutputInfo(r.conn, output, resources.ConfigTimestamp).Reply()
		if err != nil {
			return nil, fmt.Errorf("get output %d: %w", output, err)
		}
		// disabled outputs have no crtc even when a monitor is plugged in
		if info.Connection != randr.ConnectionConnected || info.Crtc == 0 {
			continue
		}
		name := string(info.Name)
		displays = append(displays, Display{
			Handle: uint32(output),
			Name:   name,
			Kind:   Classify(name),
		})
	}
	return displays, nil
}

func (r *RandR) Close() {
	r.conn.Close()
}
