//go:build !linux

package imselect

func newIBus() (Switcher, error) {
	return nil, ErrUnsupported
}
