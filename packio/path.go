package packio

// PathNode is a stack-allocated linked-list frame recording the position
// within a value being decoded. Frames are pushed as the decoder descends and
// popped as it returns; a string is materialized only when an error is
// reported.
type PathNode struct {
	Parent *PathNode
	Index  int    // array index, or one of the sentinel values below
	Field  string // struct field encode name; used when Index == PathField
}

// Sentinel values for PathNode.Index.
const (
	// PathField marks a struct or object field frame; Field holds the name.
	PathField = -1
	// PathKey marks a dict key frame.
	PathKey = -2
	// PathEllipsis marks a dict value frame.
	PathEllipsis = -3
)

// Render materializes the path as a string rooted at "$". The list is
// reversed in place, emitted root-first, then reversed back so the frames
// remain valid if decoding continues.
func (p *PathNode) Render() string {
	if p == nil {
		return "$"
	}

	var prev *PathNode
	cur := p
	for cur != nil {
		next := cur.Parent
		cur.Parent = prev
		prev = cur
		cur = next
	}

	buf := make([]byte, 0, 16)
	buf = append(buf, '$')
	for n := prev; n != nil; n = n.Parent {
		switch {
		case n.Index == PathField:
			buf = append(buf, '.')
			buf = append(buf, n.Field...)
		case n.Index == PathKey:
			buf = append(buf, ".key"...)
		case n.Index == PathEllipsis:
			buf = append(buf, "[...]"...)
		default:
			buf = append(buf, '[')
			buf = AppendInt(buf, int64(n.Index))
			buf = append(buf, ']')
		}
	}

	// reverse back
	cur = prev
	prev = nil
	for cur != nil {
		next := cur.Parent
		cur.Parent = prev
		prev = cur
		cur = next
	}

	return string(buf)
}
