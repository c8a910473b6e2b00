package store

import (
	"fmt"
	"strings"

	"github.com/specforward/specmem/value"
)

// DumpObject renders obj's effective store in ctx, one layer per line,
// innermost overlay first. For debugging and the memdump tool.
func DumpObject(ctx *Context, obj value.Obj) string {
	l := ctx.readableLeaf(obj)
	if l == nil {
		return fmt.Sprintf("%s: ⊤ (clobbered)", obj)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:", obj)
	for depth := 0; l != nil; depth++ {
		sb.WriteString("\n  ")
		sb.WriteString(strings.Repeat("  ", depth))
		switch cur := l.(type) {
		case *Single:
			fmt.Fprintf(&sb, "whole %s", cur.Val.String())
			l = nil
		case *Multi:
			fmt.Fprintf(&sb, "intervals (%d/%d covered)", cur.Covered, cur.AllocSize)
			for _, e := range cur.Extents {
				fmt.Fprintf(&sb, " %s", e.String())
			}
			l = cur.Underlying
		}
	}
	return sb.String()
}
