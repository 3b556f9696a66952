package canvas

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/roach88/marginalia/internal/annotation"
)

// rootPath is the path of the single text node a Document holds.
const rootPath = "/"

// Document is an in-memory page holding one text node.
//
// Thread-safety: all methods are safe for concurrent use.
type Document struct {
	mu         sync.Mutex
	text       string
	bodyOffset *Position
	highlights map[int64][]*HighlightElement // annotation id -> elements
	drafts     []draftHighlight
	overlays   []*Overlay
	handlers   map[int]SelectionHandler
	nextHandle int
	draws      int
}

var (
	_ Node          = (*Document)(nil)
	_ Highlighter   = (*Document)(nil)
	_ Mounter       = (*Document)(nil)
	_ Selector      = (*Document)(nil)
	_ BodyOffsetter = (*Document)(nil)
)

// NewDocument creates a document over text.
func NewDocument(text string) *Document {
	return &Document{
		text:       text,
		highlights: make(map[int64][]*HighlightElement),
		handlers:   make(map[int]SelectionHandler),
	}
}

// NodeName implements Node.
func (d *Document) NodeName() string { return "annotator" }

// Text returns the document text.
func (d *Document) Text() string { return d.text }

// SetBodyOffset positions the page body at offset.
func (d *Document) SetBodyOffset(offset Position) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bodyOffset = &offset
}

// BodyOffset implements BodyOffsetter.
func (d *Document) BodyOffset() (Position, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bodyOffset == nil {
		return Position{}, false
	}
	return *d.bodyOffset, true
}

// Range returns the text range [start, end) in byte offsets.
func (d *Document) Range(start, end int) (*TextRange, error) {
	if start < 0 || end > len(d.text) || start > end {
		return nil, fmt.Errorf("range [%d,%d) out of bounds for text of length %d", start, end, len(d.text))
	}
	return &TextRange{doc: d, Start: start, End: end}, nil
}

// Subscribe implements Selector.
func (d *Document) Subscribe(h SelectionHandler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextHandle
	d.nextHandle++
	d.handlers[id] = h
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.handlers, id)
	}
}

// Select delivers a completed selection to every subscriber.
func (d *Document) Select(ranges []Range, ev *PointerEvent) {
	d.mu.Lock()
	ids := make([]int, 0, len(d.handlers))
	for id := range d.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]SelectionHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, d.handlers[id])
	}
	d.mu.Unlock()

	for _, h := range handlers {
		h(ranges, ev)
	}
}

// Subscribers returns the number of attached selection handlers.
func (d *Document) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers)
}

// Draw implements Highlighter. Drawing the same annotation twice returns the
// elements painted the first time. Drafts (id 0) are painted uncached; once
// their elements are tagged with an id, a draw for that id adopts them.
func (d *Document) Draw(a *annotation.Annotation) ([]Element, error) {
	digest, err := annotation.RangesDigest(a.Ranges)
	if err != nil {
		return nil, fmt.Errorf("draw: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.draws++

	if a.ID != 0 {
		if elems, ok := d.highlights[a.ID]; ok {
			return elements(elems), nil
		}
		if elems, ok := d.adoptDraft(a.ID, digest); ok {
			d.highlights[a.ID] = elems
			return elements(elems), nil
		}
	}

	elems, err := d.paint(a.Ranges)
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		d.drafts = append(d.drafts, draftHighlight{digest: digest, elems: elems})
	} else {
		d.highlights[a.ID] = elems
	}
	return elements(elems), nil
}

// draftHighlight is a highlight painted before its annotation had an id.
type draftHighlight struct {
	digest string
	elems  []*HighlightElement
}

// adoptDraft removes and returns the draft highlight over digest whose
// elements were tagged with id.
func (d *Document) adoptDraft(id int64, digest string) ([]*HighlightElement, bool) {
	want := strconv.FormatInt(id, 10)
	for i, dh := range d.drafts {
		if dh.digest != digest || len(dh.elems) == 0 {
			continue
		}
		if v, ok := dh.elems[0].Attr(AttrAnnotation); ok && v == want {
			d.drafts = append(d.drafts[:i], d.drafts[i+1:]...)
			return dh.elems, true
		}
	}
	return nil, false
}

func (d *Document) paint(ranges []annotation.Value) ([]*HighlightElement, error) {
	elems := make([]*HighlightElement, 0, len(ranges))
	for i, r := range ranges {
		start, end, err := decodeRange(r)
		if err != nil {
			return nil, fmt.Errorf("draw range %d: %w", i, err)
		}
		if start < 0 || end > len(d.text) || start > end {
			return nil, fmt.Errorf("draw range %d: [%d,%d) out of bounds", i, start, end)
		}
		elems = append(elems, &HighlightElement{
			Start: start,
			End:   end,
			Text:  d.text[start:end],
			attrs: map[string]string{"class": HighlightClass},
		})
	}
	return elems, nil
}

func elements(elems []*HighlightElement) []Element {
	out := make([]Element, len(elems))
	for i, e := range elems {
		out[i] = e
	}
	return out
}

// Draws returns how many times Draw was called.
func (d *Document) Draws() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draws
}

// Highlights returns every painted highlight element ordered by position.
func (d *Document) Highlights() []*HighlightElement {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*HighlightElement
	for _, elems := range d.highlights {
		out = append(out, elems...)
	}
	for _, dh := range d.drafts {
		out = append(out, dh.elems...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// ElementsFor returns the highlight elements tagged with annotation id.
func (d *Document) ElementsFor(id int64) []*HighlightElement {
	want := strconv.FormatInt(id, 10)
	var out []*HighlightElement
	for _, e := range d.Highlights() {
		if v, ok := e.Attr(AttrAnnotation); ok && v == want {
			out = append(out, e)
		}
	}
	return out
}

// Mount implements Mounter.
func (d *Document) Mount(markup string, at Position) (Subtree, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := &Overlay{doc: d, Markup: markup, At: at}
	d.overlays = append(d.overlays, o)
	return o, nil
}

// Overlays returns the currently mounted surfaces.
func (d *Document) Overlays() []*Overlay {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Overlay, len(d.overlays))
	copy(out, d.overlays)
	return out
}

func (d *Document) unmount(o *Overlay) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cur := range d.overlays {
		if cur == o {
			d.overlays = append(d.overlays[:i], d.overlays[i+1:]...)
			return
		}
	}
}

// decodeRange reads a descriptor produced by TextRange.Serialize.
func decodeRange(v annotation.Value) (int, int, error) {
	obj, ok := v.(annotation.Object)
	if !ok {
		return 0, 0, fmt.Errorf("range descriptor: expected object, got %T", v)
	}
	start, ok := obj["startOffset"].(annotation.Int)
	if !ok {
		return 0, 0, fmt.Errorf("range descriptor: missing startOffset")
	}
	end, ok := obj["endOffset"].(annotation.Int)
	if !ok {
		return 0, 0, fmt.Errorf("range descriptor: missing endOffset")
	}
	return int(start), int(end), nil
}

// TextRange is a byte-offset range over a Document.
type TextRange struct {
	doc   *Document
	Start int
	End   int
}

// Text implements Range.
func (r *TextRange) Text() string {
	return r.doc.text[r.Start:r.End]
}

// Serialize implements Range. The descriptor mirrors the xpath-range shape:
// {start, startOffset, end, endOffset}.
func (r *TextRange) Serialize(root Node, ignoreSelector string) (annotation.Value, error) {
	if root == nil {
		return nil, fmt.Errorf("serialize: nil context root")
	}
	return annotation.Object{
		"start":       annotation.String(rootPath),
		"startOffset": annotation.Int(r.Start),
		"end":         annotation.String(rootPath),
		"endOffset":   annotation.Int(r.End),
	}, nil
}

// HighlightElement is one painted highlight span.
type HighlightElement struct {
	Start int
	End   int
	Text  string

	mu    sync.Mutex
	attrs map[string]string
}

// Attr implements Element.
func (e *HighlightElement) Attr(name string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.attrs[name]
	return v, ok
}

// SetAttr implements Element.
func (e *HighlightElement) SetAttr(name, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attrs[name] = value
}

// Overlay is a mounted surface.
type Overlay struct {
	doc    *Document
	Markup string
	At     Position
}

// Remove implements Subtree.
func (o *Overlay) Remove() {
	o.doc.unmount(o)
}
