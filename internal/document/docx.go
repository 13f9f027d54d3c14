package document

import (
	"fmt"
	"iter"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const documentPart = "word/document.xml"

// DocxAccessor rewrites paragraph text in a Word document. The paragraph
// properties element and the first run's properties are retained verbatim
// across a replacement, so styling carries over without being decoded.
type DocxAccessor struct {
	path  string
	cont  *container
	doc   *etree.Document
	dirty bool
}

// OpenDocx loads a .docx package and parses its main document part.
func OpenDocx(path string) (*DocxAccessor, error) {
	cont, err := openContainer(path)
	if err != nil {
		return nil, err
	}
	data, ok := cont.part(documentPart)
	if !ok {
		return nil, fmt.Errorf("not a Word document: %s", path)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", documentPart, err)
	}
	return &DocxAccessor{path: path, cont: cont, doc: doc}, nil
}

// Enumerate walks every paragraph in a fixed order: body paragraphs first,
// then paragraphs inside tables, then paragraphs inside text boxes.
// Paragraphs whose text is empty are skipped.
func (a *DocxAccessor) Enumerate() iter.Seq[TextUnit] {
	return func(yield func(TextUnit) bool) {
		root := a.doc.Root()
		if root == nil {
			return
		}
		var body, table, box []*etree.Element
		collectParagraphs(root, false, false, &body, &table, &box)
		for _, group := range [][]*etree.Element{body, table, box} {
			for _, p := range group {
				text := paragraphText(p)
				if strings.TrimSpace(text) == "" {
					continue
				}
				unit := TextUnit{Ref: p, Text: text, Style: docxStyle(p)}
				if !yield(unit) {
					return
				}
			}
		}
	}
}

// collectParagraphs classifies each w:p element by whether a table or text
// box encloses it, preserving document order within each class.
func collectParagraphs(el *etree.Element, inTable, inBox bool, body, table, box *[]*etree.Element) {
	for _, child := range el.ChildElements() {
		t, b := inTable, inBox
		switch {
		case child.Space == "w" && child.Tag == "tbl":
			t = true
		case child.Tag == "txbxContent":
			b = true
		}
		if child.Space == "w" && child.Tag == "p" {
			switch {
			case inBox:
				*box = append(*box, child)
			case inTable:
				*table = append(*table, child)
			default:
				*body = append(*body, child)
			}
		}
		collectParagraphs(child, t, b, body, table, box)
	}
}

func docxStyle(p *etree.Element) StyleSnapshot {
	var s StyleSnapshot
	if pPr := findChild(p, "w", "pPr"); pPr != nil {
		if jc := findChild(pPr, "w", "jc"); jc != nil {
			s.Alignment = jc.SelectAttrValue("w:val", "")
		}
		if ind := findChild(pPr, "w", "ind"); ind != nil {
			s.Indent = ind.SelectAttrValue("w:left", "")
		}
		if sp := findChild(pPr, "w", "spacing"); sp != nil {
			s.Spacing = sp.SelectAttrValue("w:line", "")
		}
	}
	if r := findChild(p, "w", "r"); r != nil {
		if rPr := findChild(r, "w", "rPr"); rPr != nil {
			if f := findChild(rPr, "w", "rFonts"); f != nil {
				s.FontName = f.SelectAttrValue("w:ascii", "")
			}
			if sz := findChild(rPr, "w", "sz"); sz != nil {
				// w:sz is in half-points.
				if v, err := strconv.ParseFloat(sz.SelectAttrValue("w:val", ""), 64); err == nil {
					s.FontSize = v / 2
				}
			}
			s.Bold = toggleOn(findChild(rPr, "w", "b"))
			s.Italic = toggleOn(findChild(rPr, "w", "i"))
			if u := findChild(rPr, "w", "u"); u != nil {
				s.Underline = u.SelectAttrValue("w:val", "") != "none"
			}
			if c := findChild(rPr, "w", "color"); c != nil {
				s.Color = c.SelectAttrValue("w:val", "")
			}
		}
	}
	return s
}

// toggleOn interprets an OOXML boolean toggle element: present means on
// unless its value says otherwise.
func toggleOn(el *etree.Element) bool {
	if el == nil {
		return false
	}
	switch el.SelectAttrValue("w:val", "") {
	case "0", "false", "off", "none":
		return false
	}
	return true
}

// Replace rewrites a paragraph's text in place. The paragraph properties
// stay, the first run's properties are copied onto a single fresh run, and
// everything else inside the paragraph is dropped, matching how a manual
// retype would collapse the runs.
func (a *DocxAccessor) Replace(unit TextUnit, newText string) error {
	p, ok := unit.Ref.(*etree.Element)
	if !ok {
		return fmt.Errorf("foreign unit handle %T", unit.Ref)
	}

	var rPr *etree.Element
	if r := findChild(p, "w", "r"); r != nil {
		if orig := findChild(r, "w", "rPr"); orig != nil {
			rPr = orig.Copy()
		}
	}

	for _, child := range p.ChildElements() {
		if child.Space == "w" && child.Tag == "pPr" {
			continue
		}
		p.RemoveChild(child)
	}

	run := p.CreateElement("w:r")
	if rPr != nil {
		run.AddChild(rPr)
	}
	t := run.CreateElement("w:t")
	t.CreateAttr("xml:space", "preserve")
	t.SetText(newText)

	a.dirty = true
	return nil
}

// sampleParagraphs bounds how much of the document feeds context inference.
const sampleParagraphs = 300

// Sample returns the first paragraphs of the document, joined by newlines
// and capped in size.
func (a *DocxAccessor) Sample() string {
	var sb strings.Builder
	count := 0
	for unit := range a.Enumerate() {
		if count >= sampleParagraphs || sb.Len() >= sampleMaxChars {
			break
		}
		sb.WriteString(unit.Text)
		sb.WriteString("\n")
		count++
	}
	return truncate(sb.String(), sampleMaxChars)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary.
	for max > 0 && s[max]&0xC0 == 0x80 {
		max--
	}
	return s[:max]
}

// Save serializes the document part back into the package and writes it.
func (a *DocxAccessor) Save(path string) error {
	if a.dirty {
		data, err := a.doc.WriteToBytes()
		if err != nil {
			return fmt.Errorf("failed to serialize document: %w", err)
		}
		a.cont.setPart(documentPart, data)
		a.dirty = false
	}
	return a.cont.save(path)
}

// Close releases the parsed tree.
func (a *DocxAccessor) Close() error {
	a.doc = nil
	a.cont = nil
	return nil
}

// paragraphText concatenates a paragraph's own text, without descending
// into text boxes hosted inside it; those paragraphs are enumerated on
// their own.
func paragraphText(p *etree.Element) string {
	var sb strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, child := range e.ChildElements() {
			if child.Tag == "txbxContent" {
				continue
			}
			if child.Space == "w" && child.Tag == "t" {
				sb.WriteString(child.Text())
				continue
			}
			walk(child)
		}
	}
	walk(p)
	return sb.String()
}

// findChild returns the first direct child with the given namespace prefix
// and tag, or nil.
func findChild(el *etree.Element, space, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Space == space && child.Tag == tag {
			return child
		}
	}
	return nil
}

// elementText concatenates every descendant text element (<space>:t) in
// document order.
func elementText(el *etree.Element, space string) string {
	var sb strings.Builder
	var walk func(*etree.Element)
	walk = func(e *etree.Element) {
		for _, child := range e.ChildElements() {
			if child.Space == space && child.Tag == "t" {
				sb.WriteString(child.Text())
				continue
			}
			walk(child)
		}
	}
	walk(el)
	return sb.String()
}
