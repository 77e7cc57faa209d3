//go:build windows

package surface

// watchResize does nothing on Windows; the console keeps its initial size.
func watchResize(c *Console) func() {
	return func() {}
}
