package btree

import (
	"fmt"
	"io"
	"strings"

	"github.com/lattice-db/btreekv/storage"
)

// Printer formats a single key/value pair for DebugPrint. The default
// renders both as hex. ctx is whatever was passed to DebugPrint.
type Printer func(w io.Writer, key, val []byte, ctx interface{})

func defaultPrinter(w io.Writer, key, val []byte, ctx interface{}) {
	fmt.Fprintf(w, "%x -> %x", key, val)
}

// DebugPrint renders the tree's node structure to out. The output
// format is a diagnostic, not a contract: its shape may change freely.
func (t *Tree) DebugPrint(out io.Writer, printer Printer, ctx interface{}) error {
	if printer == nil {
		printer = defaultPrinter
	}
	return t.withHeader(func(h treeHeader) error {
		height := h.height()
		if height == emptyHeight {
			fmt.Fprintln(out, "<empty>")
			return nil
		}
		root := h.root(t.keySize, t.valSize, height > 0)
		fmt.Fprintf(out, "height=%d\n", height)
		t.dumpNode(out, root, height, 0, printer, ctx)
		return nil
	})
}

func (t *Tree) dumpNode(out io.Writer, n node, depth, indent int, printer Printer, ctx interface{}) {
	pad := strings.Repeat("  ", indent)
	num := n.numKeys()
	fmt.Fprintf(out, "%snode max=%d num=%d interior=%v\n", pad, n.maxKeys(), num, depth > 0)
	for i := 0; i < num; i++ {
		if depth > 0 {
			t.dumpChild(out, n.childID(i), depth-1, indent+1, printer, ctx)
		}
		fmt.Fprintf(out, "%s  ", pad)
		printer(out, n.key(i), n.val(i), ctx)
		fmt.Fprintln(out)
	}
	if depth > 0 {
		t.dumpChild(out, n.childID(num), depth-1, indent+1, printer, ctx)
	}
}

func (t *Tree) dumpChild(out io.Writer, id storage.NodeID, depth, indent int, printer Printer, ctx interface{}) {
	ln, err := t.load(id, depth > 0)
	if err != nil {
		fmt.Fprintf(out, "%s<error loading node: %v>\n", strings.Repeat("  ", indent), err)
		return
	}
	defer ln.release()
	t.dumpNode(out, ln.view, depth, indent, printer, ctx)
}
