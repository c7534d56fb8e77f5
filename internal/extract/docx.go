package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	docxDocumentPart  = "word/document.xml"
	docxNumberingPart = "word/numbering.xml"
	docxRelsPart      = "word/_rels/document.xml.rels"
)

// DOCXResult is the HTML rendering of a Word document. Warnings describe
// constructs that were dropped; they never make the conversion fail.
type DOCXResult struct {
	HTML     string
	Warnings []string
}

// DOCX converts a Word document to HTML keeping headings, lists, emphasis,
// line breaks, hyperlinks and tables.
func DOCX(ctx context.Context, data []byte) (DOCXResult, error) {
	if err := ctx.Err(); err != nil {
		return DOCXResult{}, err
	}
	if len(data) == 0 {
		return DOCXResult{}, fmt.Errorf("%w: empty docx data", ErrParse)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return DOCXResult{}, fmt.Errorf("%w: open docx archive: %v", ErrParse, err)
	}

	parts := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		parts[strings.ReplaceAll(f.Name, "\\", "/")] = f
	}
	docFile, ok := parts[docxDocumentPart]
	if !ok {
		return DOCXResult{}, fmt.Errorf("%w: %s not found", ErrParse, docxDocumentPart)
	}

	var doc wDocument
	if err := decodePart(docFile, &doc); err != nil {
		return DOCXResult{}, fmt.Errorf("%w: decode %s: %v", ErrParse, docxDocumentPart, err)
	}

	conv := &docxConverter{
		ordered: map[string]bool{},
		links:   map[string]string{},
		seen:    map[string]bool{},
	}
	if f, ok := parts[docxNumberingPart]; ok {
		var numbering wNumbering
		if err := decodePart(f, &numbering); err != nil {
			conv.warn("numbering definitions unreadable; lists rendered as bulleted")
		} else {
			conv.loadNumbering(numbering)
		}
	}
	if f, ok := parts[docxRelsPart]; ok {
		var rels wRelationships
		if err := decodePart(f, &rels); err != nil {
			conv.warn("relationships unreadable; hyperlinks rendered as text")
		} else {
			for _, r := range rels.Items {
				if strings.EqualFold(r.TargetMode, "External") {
					conv.links[r.ID] = r.Target
				}
			}
		}
	}

	root := &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
	conv.blocks(root, doc.Body.Items)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return DOCXResult{}, fmt.Errorf("render html: %w", err)
		}
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return DOCXResult{}, fmt.Errorf("%w: docx contains no text", ErrParse)
	}
	return DOCXResult{HTML: out, Warnings: conv.warnings}, nil
}

func decodePart(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(io.LimitReader(rc, 64<<20)).Decode(v)
}

type wVal struct {
	Val string `xml:"val,attr"`
}

type wOnOff struct {
	Val string `xml:"val,attr"`
}

func (o *wOnOff) on() bool {
	if o == nil {
		return false
	}
	switch strings.ToLower(o.Val) {
	case "0", "false", "off", "none":
		return false
	}
	return true
}

type wDocument struct {
	Body struct {
		Items []wBlock `xml:",any"`
	} `xml:"body"`
}

// wBlock is a body-level element: a paragraph, a table, or something skipped.
type wBlock struct {
	XMLName xml.Name
	PPr     *struct {
		Style *wVal `xml:"pStyle"`
		NumPr *struct {
			ILvl  wVal `xml:"ilvl"`
			NumID wVal `xml:"numId"`
		} `xml:"numPr"`
	} `xml:"pPr"`
	Inline []wInline `xml:",any"`
	Rows   []struct {
		Cells []struct {
			Items []wBlock `xml:",any"`
		} `xml:"tc"`
	} `xml:"tr"`
}

// wInline is a paragraph child: a run, a hyperlink, or something skipped.
type wInline struct {
	XMLName xml.Name
	ID      string `xml:"id,attr"`
	Anchor  string `xml:"anchor,attr"`
	RPr     *struct {
		Bold    *wOnOff `xml:"b"`
		Italic  *wOnOff `xml:"i"`
		Under   *wOnOff `xml:"u"`
		Strike  *wOnOff `xml:"strike"`
		DStrike *wOnOff `xml:"dstrike"`
	} `xml:"rPr"`
	Runs  []wInline `xml:"r"`
	Items []struct {
		XMLName xml.Name
		Text    string `xml:",chardata"`
	} `xml:",any"`
}

type wNumbering struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			ILvl   string `xml:"ilvl,attr"`
			NumFmt wVal   `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string `xml:"numId,attr"`
		Abstract wVal   `xml:"abstractNumId"`
	} `xml:"num"`
}

type wRelationships struct {
	Items []struct {
		ID         string `xml:"Id,attr"`
		Target     string `xml:"Target,attr"`
		TargetMode string `xml:"TargetMode,attr"`
	} `xml:"Relationship"`
}

type docxConverter struct {
	ordered  map[string]bool // numId:ilvl -> ordered list
	links    map[string]string
	lists    []*html.Node
	warnings []string
	seen     map[string]bool
}

func (c *docxConverter) warn(msg string) {
	if c.seen[msg] {
		return
	}
	c.seen[msg] = true
	c.warnings = append(c.warnings, msg)
}

func (c *docxConverter) loadNumbering(n wNumbering) {
	formats := map[string]map[string]string{}
	for _, a := range n.Abstract {
		levels := map[string]string{}
		for _, l := range a.Levels {
			levels[l.ILvl] = l.NumFmt.Val
		}
		formats[a.ID] = levels
	}
	for _, num := range n.Nums {
		for lvl, format := range formats[num.Abstract.Val] {
			c.ordered[num.ID+":"+lvl] = format != "" && format != "bullet" && format != "none"
		}
	}
}

func (c *docxConverter) blocks(parent *html.Node, items []wBlock) {
	for _, b := range items {
		switch b.XMLName.Local {
		case "p":
			c.paragraph(parent, b)
		case "tbl":
			c.lists = nil
			c.table(parent, b)
		case "sectPr", "tcPr", "bookmarkStart", "bookmarkEnd", "proofErr":
		default:
			c.lists = nil
			c.warn(fmt.Sprintf("unsupported element %q skipped", b.XMLName.Local))
		}
	}
	c.lists = nil
}

func (c *docxConverter) paragraph(parent *html.Node, p wBlock) {
	content := element(atom.P)
	c.inlines(content, p.Inline)
	if content.FirstChild == nil {
		return
	}

	if p.PPr != nil && p.PPr.NumPr != nil && p.PPr.NumPr.NumID.Val != "" && p.PPr.NumPr.NumID.Val != "0" {
		level, _ := strconv.Atoi(p.PPr.NumPr.ILvl.Val)
		ordered := c.ordered[p.PPr.NumPr.NumID.Val+":"+p.PPr.NumPr.ILvl.Val]
		list := c.listAt(parent, level, ordered)
		li := element(atom.Li)
		moveChildren(li, content)
		list.AppendChild(li)
		return
	}
	c.lists = nil

	if tag := headingFor(p); tag != 0 {
		h := element(tag)
		moveChildren(h, content)
		parent.AppendChild(h)
		return
	}
	parent.AppendChild(content)
}

// listAt returns the list element for a paragraph at level, opening and
// closing nested lists as the level changes.
func (c *docxConverter) listAt(parent *html.Node, level int, ordered bool) *html.Node {
	if level < 0 {
		level = 0
	}
	if level > 8 {
		level = 8
	}
	tag := atom.Ul
	if ordered {
		tag = atom.Ol
	}
	if len(c.lists) > level+1 {
		c.lists = c.lists[:level+1]
	}
	if len(c.lists) == level+1 && c.lists[level].DataAtom != tag {
		c.lists = c.lists[:level]
	}
	for len(c.lists) < level+1 {
		list := element(tag)
		if len(c.lists) == 0 {
			parent.AppendChild(list)
		} else {
			outer := c.lists[len(c.lists)-1]
			if outer.LastChild != nil {
				outer.LastChild.AppendChild(list)
			} else {
				outer.AppendChild(list)
			}
		}
		c.lists = append(c.lists, list)
	}
	return c.lists[level]
}

func (c *docxConverter) table(parent *html.Node, t wBlock) {
	table := element(atom.Table)
	for _, row := range t.Rows {
		tr := element(atom.Tr)
		for _, cell := range row.Cells {
			td := element(atom.Td)
			saved := c.lists
			c.lists = nil
			c.blocks(td, cell.Items)
			c.lists = saved
			tr.AppendChild(td)
		}
		table.AppendChild(tr)
	}
	if table.FirstChild != nil {
		parent.AppendChild(table)
	}
}

func (c *docxConverter) inlines(parent *html.Node, items []wInline) {
	for _, in := range items {
		switch in.XMLName.Local {
		case "r":
			c.run(parent, in)
		case "hyperlink":
			target, ok := c.links[in.ID]
			if !ok || !safeHref(target) {
				if in.ID != "" || in.Anchor != "" {
					c.warn("internal or unsafe hyperlink rendered as text")
				}
				for _, r := range in.Runs {
					c.run(parent, r)
				}
				continue
			}
			a := element(atom.A)
			a.Attr = []html.Attribute{{Key: "href", Val: target}}
			for _, r := range in.Runs {
				c.run(a, r)
			}
			if a.FirstChild != nil {
				parent.AppendChild(a)
			}
		case "pPr", "bookmarkStart", "bookmarkEnd", "proofErr", "rPr":
		case "ins", "smartTag", "fldSimple":
			for _, r := range in.Runs {
				c.run(parent, r)
			}
		default:
			c.warn(fmt.Sprintf("unsupported inline element %q skipped", in.XMLName.Local))
		}
	}
}

func (c *docxConverter) run(parent *html.Node, r wInline) {
	target := parent
	if r.RPr != nil && runHasContent(r) {
		var chain []atom.Atom
		if r.RPr.Bold.on() {
			chain = append(chain, atom.Strong)
		}
		if r.RPr.Italic.on() {
			chain = append(chain, atom.Em)
		}
		if r.RPr.Under.on() {
			chain = append(chain, atom.U)
		}
		if r.RPr.Strike.on() || r.RPr.DStrike.on() {
			chain = append(chain, atom.S)
		}
		for _, tag := range chain {
			n := element(tag)
			target.AppendChild(n)
			target = n
		}
	}

	for _, item := range r.Items {
		switch item.XMLName.Local {
		case "t":
			appendText(target, item.Text)
		case "tab":
			appendText(target, "\t")
		case "br", "cr":
			target.AppendChild(element(atom.Br))
		case "drawing", "pict", "object":
			c.warn("embedded image or object omitted")
		case "rPr", "lastRenderedPageBreak", "softHyphen", "noBreakHyphen", "fldChar", "instrText":
		default:
			c.warn(fmt.Sprintf("unsupported run element %q skipped", item.XMLName.Local))
		}
	}
}

func runHasContent(r wInline) bool {
	for _, item := range r.Items {
		switch item.XMLName.Local {
		case "t":
			if item.Text != "" {
				return true
			}
		case "tab", "br", "cr":
			return true
		}
	}
	return false
}

func headingFor(p wBlock) atom.Atom {
	if p.PPr == nil || p.PPr.Style == nil {
		return 0
	}
	switch strings.ToLower(strings.ReplaceAll(p.PPr.Style.Val, " ", "")) {
	case "title", "heading1":
		return atom.H1
	case "subtitle", "heading2":
		return atom.H2
	case "heading3":
		return atom.H3
	case "heading4":
		return atom.H4
	case "heading5":
		return atom.H5
	case "heading6":
		return atom.H6
	}
	return 0
}

func safeHref(target string) bool {
	lower := strings.ToLower(strings.TrimSpace(target))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:")
}

func element(tag atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: tag, Data: tag.String()}
}

func appendText(parent *html.Node, text string) {
	if text == "" {
		return
	}
	if last := parent.LastChild; last != nil && last.Type == html.TextNode {
		last.Data += text
		return
	}
	parent.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func moveChildren(dst, src *html.Node) {
	for child := src.FirstChild; child != nil; {
		next := child.NextSibling
		src.RemoveChild(child)
		dst.AppendChild(child)
		child = next
	}
}
