package document

import (
	"fmt"
	"iter"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type pptxSlide struct {
	part  string
	doc   *etree.Document
	dirty bool
}

// PptxAccessor rewrites paragraph text across the slides of a PowerPoint
// deck. Slides are visited in ascending slide number; within a slide the
// XML tree order is followed, so grouped shapes and table cells appear at
// their natural position.
type PptxAccessor struct {
	path   string
	cont   *container
	slides []*pptxSlide
}

// OpenPptx loads a .pptx package and parses every slide part.
func OpenPptx(path string) (*PptxAccessor, error) {
	cont, err := openContainer(path)
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n     int
		slide *pptxSlide
	}
	var found []numbered
	for _, name := range cont.names {
		m := slidePartRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		doc := etree.NewDocument()
		data, _ := cont.part(name)
		if err := doc.ReadFromBytes(data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		found = append(found, numbered{n: n, slide: &pptxSlide{part: name, doc: doc}})
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("not a PowerPoint document: %s", path)
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	a := &PptxAccessor{path: path, cont: cont}
	for _, f := range found {
		a.slides = append(a.slides, f.slide)
	}
	return a, nil
}

// Enumerate yields every non-empty paragraph of every text body, slide by
// slide. The handle remembers which slide owns the paragraph so a rewrite
// marks only that part dirty.
func (a *PptxAccessor) Enumerate() iter.Seq[TextUnit] {
	return func(yield func(TextUnit) bool) {
		for _, slide := range a.slides {
			root := slide.doc.Root()
			if root == nil {
				continue
			}
			for _, p := range slideParagraphs(root) {
				text := elementText(p, "a")
				if strings.TrimSpace(text) == "" {
					continue
				}
				unit := TextUnit{
					Ref:   pptxRef{slide: slide, para: p},
					Text:  text,
					Style: pptxStyle(p),
				}
				if !yield(unit) {
					return
				}
			}
		}
	}
}

type pptxRef struct {
	slide *pptxSlide
	para  *etree.Element
}

// slideParagraphs collects every a:p living under a text body, in document
// order. Text bodies appear in plain shapes (p:txBody), grouped shapes, and
// table cells (a:txBody), so matching on the tag alone covers all three.
func slideParagraphs(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element, inBody bool)
	walk = func(el *etree.Element, inBody bool) {
		for _, child := range el.ChildElements() {
			body := inBody || child.Tag == "txBody"
			if inBody && child.Space == "a" && child.Tag == "p" {
				out = append(out, child)
				continue
			}
			walk(child, body)
		}
	}
	walk(root, false)
	return out
}

func pptxStyle(p *etree.Element) StyleSnapshot {
	var s StyleSnapshot
	if pPr := findChild(p, "a", "pPr"); pPr != nil {
		s.Alignment = pPr.SelectAttrValue("algn", "")
	}
	if r := findChild(p, "a", "r"); r != nil {
		if rPr := findChild(r, "a", "rPr"); rPr != nil {
			// sz is in hundredths of a point.
			if v, err := strconv.ParseFloat(rPr.SelectAttrValue("sz", ""), 64); err == nil {
				s.FontSize = v / 100
			}
			s.Bold = rPr.SelectAttrValue("b", "") == "1"
			s.Italic = rPr.SelectAttrValue("i", "") == "1"
			s.Underline = rPr.SelectAttrValue("u", "") != "" && rPr.SelectAttrValue("u", "") != "none"
			if latin := findChild(rPr, "a", "latin"); latin != nil {
				s.FontName = latin.SelectAttrValue("typeface", "")
			}
			if fill := findChild(rPr, "a", "solidFill"); fill != nil {
				if clr := findChild(fill, "a", "srgbClr"); clr != nil {
					s.Color = clr.SelectAttrValue("val", "")
				}
			}
		}
	}
	return s
}

// Replace rewrites one slide paragraph, keeping its paragraph properties
// and reapplying the first run's properties to a single fresh run.
func (a *PptxAccessor) Replace(unit TextUnit, newText string) error {
	ref, ok := unit.Ref.(pptxRef)
	if !ok {
		return fmt.Errorf("foreign unit handle %T", unit.Ref)
	}
	p := ref.para

	var rPr *etree.Element
	if r := findChild(p, "a", "r"); r != nil {
		if orig := findChild(r, "a", "rPr"); orig != nil {
			rPr = orig.Copy()
		}
	}

	for _, child := range p.ChildElements() {
		if child.Space == "a" && child.Tag == "pPr" {
			continue
		}
		p.RemoveChild(child)
	}

	run := p.CreateElement("a:r")
	if rPr != nil {
		run.AddChild(rPr)
	}
	run.CreateElement("a:t").SetText(newText)

	ref.slide.dirty = true
	return nil
}

// sampleSlides bounds how many slides feed context inference.
const sampleSlides = 3

// Sample returns the text of the first slides, capped in size.
func (a *PptxAccessor) Sample() string {
	var sb strings.Builder
	for i, slide := range a.slides {
		if i >= sampleSlides || sb.Len() >= sampleMaxChars {
			break
		}
		root := slide.doc.Root()
		if root == nil {
			continue
		}
		for _, p := range slideParagraphs(root) {
			text := elementText(p, "a")
			if strings.TrimSpace(text) == "" {
				continue
			}
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return truncate(sb.String(), sampleMaxChars)
}

// Save serializes the dirty slides back into the package and writes it.
func (a *PptxAccessor) Save(path string) error {
	for _, slide := range a.slides {
		if !slide.dirty {
			continue
		}
		data, err := slide.doc.WriteToBytes()
		if err != nil {
			return fmt.Errorf("failed to serialize %s: %w", slide.part, err)
		}
		a.cont.setPart(slide.part, data)
		slide.dirty = false
	}
	return a.cont.save(path)
}

// Close releases the parsed slides.
func (a *PptxAccessor) Close() error {
	a.slides = nil
	a.cont = nil
	return nil
}
