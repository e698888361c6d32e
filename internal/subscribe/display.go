package subscribe

import (
	"bytes"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// DisplayEvents returns a source that signals connector hotplug changes
// reported by the kernel. Bursts are coalesced into one pending event.
func DisplayEvents(log zerolog.Logger) func(stop <-chan struct{}) <-chan struct{} {
	return func(stop <-chan struct{}) <-chan struct{} {
		return listen(stop, log)
	}
}

func listen(stop <-chan struct{}, log zerolog.Logger) <-chan struct{} {
	events := make(chan struct{}, 1)

	go func() {
		fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
		if err != nil {
			log.Error().Err(err).Msg("failed to open netlink socket")
			return
		}

		addr := &unix.SockaddrNetlink{
			Family: unix.AF_NETLINK,
			Groups: 1, // listen to broadcast uevents
		}
		if err := unix.Bind(fd, addr); err != nil {
			log.Error().Err(err).Msg("failed to bind netlink socket")
			unix.Close(fd)
			return
		}

		defer unix.Close(fd)

		// wake up periodically to notice stop
		tv := unix.Timeval{Sec: 1}
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			log.Error().Err(err).Msg("failed to set netlink timeout")
			return
		}

		buf := make([]byte, 4096)
		for {
			select {
			case <-stop:
				return
			default:
			}

			n, _, err := unix.Recvfrom(fd, buf, 0)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
					continue
				}
				log.Warn().Err(err).Msg("netlink recv")
				continue
			}

			if IsDisplayHotplug(buf[:n]) {
				select {
				case events <- struct{}{}:
				default:
				}
			}
		}
	}()

	return events
}

// IsDisplayHotplug reports whether a raw uevent is a DRM change, which the
// kernel sends when a connector is plugged, unplugged or re-probed.
func IsDisplayHotplug(msg []byte) bool {
	var subsystem, action bool
	for _, field := range bytes.Split(msg, []byte{0}) {
		switch {
		case bytes.Equal(field, []byte("SUBSYSTEM=drm")):
			subsystem = true
		case bytes.Equal(field, []byte("ACTION=change")):
			action = true
		}
	}
	return subsystem && action
}
