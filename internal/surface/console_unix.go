//go:build !windows

package surface

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// watchResize forwards SIGWINCH as resize messages until the returned stop
// function is called.
func watchResize(c *Console) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)

	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				c.resized()
			case <-stop:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(stop)
	}
}
