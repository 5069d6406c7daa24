package digest

import (
	"slices"
	"strconv"
	"strings"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
)

// DefaultMaxPrint caps the entries rendered by String and SortedString.
const DefaultMaxPrint = 20

type PrintOptions struct {
	// Max entries to print; zero or less prints all of them.
	Max int
	// Sorted orders entries by address instead of view order and drops the
	// ViewID prefix.
	Sorted bool
	// OmitReceived prints highest delivered seqnos only.
	OmitReceived bool
}

// String prints "[creator|ts]: a: [hd (hr)], b: [hd (hr)], ...". An unbound
// or empty digest prints only its ViewID.
func (d *Digest) String() string {
	return d.Print(PrintOptions{Max: DefaultMaxPrint})
}

func (d *Digest) SortedString() string {
	return d.Print(PrintOptions{Max: DefaultMaxPrint, Sorted: true})
}

func (d *Digest) HighestDeliveredString() string {
	return d.Print(PrintOptions{Max: DefaultMaxPrint, Sorted: true, OmitReceived: true})
}

func (d *Digest) Print(opts PrintOptions) string {
	if d.Capacity() == 0 || !d.Bound() {
		return d.ViewID().String()
	}
	entries := slices.Collect(d.All())
	var sb strings.Builder
	if opts.Sorted {
		slices.SortFunc(entries, func(a, b Entry) int { return address.Compare(a.Member, b.Member) })
	} else {
		sb.WriteString(d.ViewID().String())
		sb.WriteString(": ")
	}
	for i, e := range entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		if opts.Max > 0 && i >= opts.Max {
			sb.WriteString("... ")
			sb.WriteString(strconv.Itoa(len(entries) - i))
			sb.WriteString(" more")
			break
		}
		sb.WriteString(e.Member.String())
		sb.WriteString(": [")
		sb.WriteString(strconv.FormatInt(e.HighestDelivered, 10))
		if !opts.OmitReceived {
			sb.WriteString(" (")
			sb.WriteString(strconv.FormatInt(e.HighestReceived, 10))
			sb.WriteString(")")
		}
		sb.WriteString("]")
	}
	return sb.String()
}
