package sampler

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// LinkSource reads byte counters of a kernel interface over netlink.
type LinkSource struct {
	Name string
}

func (l LinkSource) Counters() (rx, tx uint64, err error) {
	link, err := netlink.LinkByName(l.Name)
	if err != nil {
		return 0, 0, fmt.Errorf("link %s: %w", l.Name, err)
	}
	st := link.Attrs().Statistics
	if st == nil {
		return 0, 0, fmt.Errorf("link %s: no statistics", l.Name)
	}
	return st.RxBytes, st.TxBytes, nil
}
