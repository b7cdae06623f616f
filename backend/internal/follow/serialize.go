package follow

import (
	"followServer/backend/internal/editor"
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/proto"
	"followServer/backend/internal/text"
)

// 编解码失败只返回 ok=false，由调用方丢弃该条目。

func SerializeTextAnchor(a text.Anchor) *proto.TextAnchor {
	return &proto.TextAnchor{Revision: a.Revision, Offset: int64(a.Offset), Bias: int32(a.Bias)}
}

func DeserializeTextAnchor(p *proto.TextAnchor) (text.Anchor, bool) {
	if p == nil || p.Offset < 0 || p.Offset > text.MaxOffset {
		return text.Anchor{}, false
	}
	bias := text.Bias(p.Bias)
	if bias != text.BiasLeft && bias != text.BiasRight {
		return text.Anchor{}, false
	}
	return text.Anchor{Revision: p.Revision, Offset: int(p.Offset), Bias: bias}, true
}

func SerializeAnchor(a multibuffer.Anchor) *proto.EditorAnchor {
	return &proto.EditorAnchor{ExcerptID: a.ExcerptID.ToProto(), Anchor: SerializeTextAnchor(a.Text)}
}

// DeserializeAnchor 解码锚点，并用快照反查片段所属的 buffer
func DeserializeAnchor(snapshot *multibuffer.Snapshot, p *proto.EditorAnchor) (multibuffer.Anchor, bool) {
	if p == nil {
		return multibuffer.Anchor{}, false
	}
	ta, ok := DeserializeTextAnchor(p.Anchor)
	if !ok {
		return multibuffer.Anchor{}, false
	}
	id := multibuffer.ExcerptIDFromProto(p.ExcerptID)
	a := multibuffer.Anchor{ExcerptID: id, Text: ta}
	if bufID, ok := snapshot.BufferIDForExcerpt(id); ok {
		a.BufferID = &bufID
	}
	return a, true
}

func SerializeExcerpt(bufferID uint64, id multibuffer.ExcerptID, r multibuffer.ExcerptRange) proto.Excerpt {
	p := proto.Excerpt{
		ID:           id.ToProto(),
		BufferID:     bufferID,
		ContextStart: SerializeTextAnchor(r.Context.Start),
		ContextEnd:   SerializeTextAnchor(r.Context.End),
	}
	if r.Primary != nil {
		p.PrimaryStart = SerializeTextAnchor(r.Primary.Start)
		p.PrimaryEnd = SerializeTextAnchor(r.Primary.End)
	}
	return p
}

// DeserializeExcerptRange：上下文两端必须能解码；primary 只有两端都能解码时才保留
func DeserializeExcerptRange(p proto.Excerpt) (multibuffer.ExcerptRange, bool) {
	start, ok := DeserializeTextAnchor(p.ContextStart)
	if !ok {
		return multibuffer.ExcerptRange{}, false
	}
	end, ok := DeserializeTextAnchor(p.ContextEnd)
	if !ok {
		return multibuffer.ExcerptRange{}, false
	}
	r := multibuffer.ExcerptRange{Context: multibuffer.Range{Start: start, End: end}}
	ps, okStart := DeserializeTextAnchor(p.PrimaryStart)
	pe, okEnd := DeserializeTextAnchor(p.PrimaryEnd)
	if okStart && okEnd {
		r.Primary = &multibuffer.Range{Start: ps, End: pe}
	}
	return r, true
}

func SerializeSelection(s editor.Selection) proto.Selection {
	return proto.Selection{
		ID:       s.ID,
		Start:    SerializeAnchor(s.Start),
		End:      SerializeAnchor(s.End),
		Reversed: s.Reversed,
	}
}

func DeserializeSelection(snapshot *multibuffer.Snapshot, p proto.Selection) (editor.Selection, bool) {
	start, ok := DeserializeAnchor(snapshot, p.Start)
	if !ok {
		return editor.Selection{}, false
	}
	end, ok := DeserializeAnchor(snapshot, p.End)
	if !ok {
		return editor.Selection{}, false
	}
	return editor.Selection{ID: p.ID, Start: start, End: end, Reversed: p.Reversed}, true
}

func SerializeViewID(id editor.ViewID) proto.ViewID {
	return proto.ViewID{Creator: id.Creator, ID: id.ID}
}

func DeserializeViewID(p proto.ViewID) editor.ViewID {
	return editor.ViewID{Creator: p.Creator, ID: p.ID}
}
