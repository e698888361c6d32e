package manager

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hoppxi/umbra/internal/engine"
	"github.com/hoppxi/umbra/internal/logging"
	"github.com/hoppxi/umbra/internal/subscribe"
	"github.com/hoppxi/umbra/internal/watchers"
	"github.com/rs/zerolog"
)

type AppManager struct {
	mu       sync.Mutex
	stops    []chan struct{}
	wg       sync.WaitGroup
	started  bool
	daemon   *Daemon
	listener net.Listener
	log      zerolog.Logger
	stopOnce sync.Once
	stopped  chan struct{}
}

var Manage = &AppManager{log: zerolog.Nop(), stopped: make(chan struct{})}

func getSocketPath() string {
	var baseDir string
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		baseDir = runtimeDir
	} else {
		baseDir = os.TempDir()
	}

	socketDir := filepath.Join(baseDir, "umbra")
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return filepath.Join(os.TempDir(), "umbra-socket.sock")
	}
	return filepath.Join(socketDir, "socket.sock")
}

// Start builds the daemon from the config file and starts the watchers.
func (m *AppManager) Start(cfg *ConfigManager, log zerolog.Logger) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.log = log
	m.mu.Unlock()

	conf, err := cfg.Load()
	if err != nil {
		return err
	}

	d, err := Build(conf, log)
	if err != nil {
		return err
	}
	m.attach(d)

	cfg.Watch(d.Apply)

	displayLog := logging.Component(log, "displays")
	m.StartWatcher(watchers.DisplayWatcher(d.Engine, subscribe.DisplayEvents(displayLog), displayLog))
	m.StartWatcher(watchers.HelperWatcher(d.Presence, conf.Helper.PollInterval, d.Engine, logging.Component(log, "presence")))
	return nil
}

func (m *AppManager) attach(d *Daemon) {
	m.mu.Lock()
	m.daemon = d
	m.mu.Unlock()
}

func (m *AppManager) StartIPCServer() error {
	socketPath := getSocketPath()
	_ = os.Remove(socketPath)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return err
	}
	return m.Serve(listener)
}

// Serve accepts connections until the listener is closed.
func (m *AppManager) Serve(listener net.Listener) error {
	m.mu.Lock()
	m.listener = listener
	m.mu.Unlock()
	defer listener.Close()

	m.log.Info().Str("socket", listener.Addr().String()).Msg("IPC server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}
		go m.handleConnection(conn)
	}
}

func (m *AppManager) handleConnection(conn net.Conn) {
	defer conn.Close()

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return
	}

	command := strings.TrimSpace(string(buf[:n]))

	if strings.EqualFold(command, "STOP") {
		m.log.Info().Msg("received STOP via IPC, shutting down")
		_, _ = conn.Write([]byte("OK: Shutting down."))

		// Close immediately so client doesn't hang
		_ = conn.Close()

		go m.StopAll()
		return
	}

	m.mu.Lock()
	d := m.daemon
	m.mu.Unlock()
	if d == nil {
		_, _ = conn.Write([]byte("ERR: not started"))
		return
	}

	log := m.log.With().Str("command", command).Logger()
	reply := d.Execute(logging.WithContext(context.Background(), log), command)
	log.Debug().Str("reply", reply).Msg("ipc")
	_, _ = conn.Write([]byte(reply))
}

func (m *AppManager) StartWatcher(f func(stop <-chan struct{})) {
	stop := make(chan struct{})
	m.mu.Lock()
	m.stops = append(m.stops, stop)
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error().Interface("panic", r).Msg("watcher panic")
					}
				}()
				f(stop)
			}()

			select {
			case <-stop:
				return
			case <-time.After(2 * time.Second):
				m.log.Warn().Msg("restarting watcher")
			}
		}
	}()
}

// Stopped is closed once StopAll has run.
func (m *AppManager) Stopped() <-chan struct{} {
	return m.stopped
}

// StopAll stops watchers, restores dimmed displays and closes the listener.
func (m *AppManager) StopAll() {
	m.mu.Lock()
	stops := m.stops
	d := m.daemon
	listener := m.listener
	m.stops = nil
	m.daemon = nil
	m.listener = nil
	m.mu.Unlock()

	for _, s := range stops {
		close(s)
	}
	m.wg.Wait()

	if d != nil && d.Engine.State() != engine.Idle {
		ctx, cancel := context.WithTimeout(context.Background(), d.opTimeout())
		if err := d.Engine.UndimContext(ctx); err != nil {
			m.log.Warn().Err(err).Msg("restore on shutdown")
		}
		cancel()
	}
	if d != nil {
		d.Close()
	}
	if listener != nil {
		_ = listener.Close()
	}

	m.stopOnce.Do(func() { close(m.stopped) })
}

func (m *AppManager) ConnectIPC() (net.Conn, error) {
	return net.DialTimeout("unix", getSocketPath(), 500*time.Millisecond)
}

func (m *AppManager) SendIPCCommand(cmd string) (string, error) {
	conn, err := m.ConnectIPC()
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return exchange(conn, cmd)
}

func exchange(conn net.Conn, cmd string) (string, error) {
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return "", err
	}

	data, err := io.ReadAll(conn)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return string(data), nil
}
