package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPath    = "[Content_Types].xml"
	docxDefaultMainPath = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix     = "ppt/slides/slide"
	odfContentPath      = "content.xml"
)

var errPartNotFound = errors.New("part not found")

// textLayout assigns roles to XML elements by local name. Prefixes are ignored.
type textLayout struct {
	text   map[string]bool
	breaks map[string]bool
	spaces map[string]bool
}

func names(n ...string) map[string]bool {
	m := make(map[string]bool, len(n))
	for _, s := range n {
		m[s] = true
	}
	return m
}

var (
	// WordprocessingML: <w:p><w:r><w:t>..</w:t></w:r></w:p>
	wordLayout = textLayout{text: names("t"), breaks: names("p"), spaces: names("tab", "br")}
	// DrawingML inside slides: <a:p><a:r><a:t>..</a:t></a:r></a:p>
	drawingLayout = textLayout{text: names("t"), breaks: names("p"), spaces: names("br")}
	// OpenDocument: <text:p>..<text:span>..</text:span></text:p>, <text:h>
	odfLayout = textLayout{text: names("p", "h"), breaks: names("p", "h"), spaces: names("s", "tab", "line-break")}
)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

func readPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: %s", errPartNotFound, name)
}

// xmlText streams the document and collects character data inside text
// elements, one line per paragraph. Blank lines are dropped.
func xmlText(data []byte, layout textLayout) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var lines []string
	var cur strings.Builder
	depth := 0

	flush := func() {
		if line := strings.TrimSpace(cur.String()); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			local := t.Name.Local
			if layout.text[local] {
				depth++
			}
			if layout.spaces[local] {
				cur.WriteByte(' ')
			}
		case xml.EndElement:
			local := t.Name.Local
			if layout.text[local] && depth > 0 {
				depth--
			}
			if layout.breaks[local] {
				flush()
			}
		case xml.CharData:
			if depth > 0 {
				cur.Write(t)
			}
		}
	}
	flush()
	return strings.Join(lines, "\n"), nil
}

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// docxMainPath resolves the main document part from [Content_Types].xml.
func docxMainPath(zr *zip.Reader) string {
	data, err := readPart(zr, contentTypesPath)
	if err != nil {
		return docxDefaultMainPath
	}
	var ct contentTypes
	if err := xml.Unmarshal(data, &ct); err != nil {
		return docxDefaultMainPath
	}
	for _, o := range ct.Overrides {
		if o.ContentType == docxMainContentType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return docxDefaultMainPath
}

func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content, "DOCX")
	if err != nil {
		return "", err
	}
	data, err := readPart(zr, docxMainPath(zr))
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	text, err := xmlText(data, wordLayout)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	return text, nil
}

// slideNumber parses N from ppt/slides/slideN.xml; ok is false for other parts.
func slideNumber(name string) (int, bool) {
	rest, ok := strings.CutPrefix(name, pptxSlidePrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, ".xml")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	return n, err == nil
}

func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if n, ok := slideNumber(f.Name); ok {
			slides = append(slides, slide{n: n, name: f.Name})
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var parts []string
	for _, s := range slides {
		data, err := readPart(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		text, err := xmlText(data, drawingLayout)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %s: %w", s.name, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// extractODF handles OpenDocument text, presentation and spreadsheet files,
// which all keep their body in content.xml.
func extractODF(content []byte) (string, error) {
	zr, err := openZip(content, "ODF")
	if err != nil {
		return "", err
	}
	data, err := readPart(zr, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract ODF: %w", err)
	}
	text, err := xmlText(data, odfLayout)
	if err != nil {
		return "", fmt.Errorf("extract ODF: %w", err)
	}
	return text, nil
}
