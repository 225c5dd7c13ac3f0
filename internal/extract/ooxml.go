package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPart = "[Content_Types].xml"
	docxDefaultPart  = "word/document.xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix  = "ppt/slides/slide"
)

// maxPartSize bounds one archive entry read into memory.
const maxPartSize = 64 << 20

var errMissingPart = errors.New("missing document part")

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return zr, nil
}

func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(io.LimitReader(rc, maxPartSize))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %s", errMissingPart, name)
}

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// docxMainPart resolves the main document part from [Content_Types].xml,
// falling back to word/document.xml.
func docxMainPart(zr *zip.Reader) string {
	data, err := readEntry(zr, contentTypesPart)
	if err != nil {
		return docxDefaultPart
	}
	var ct contentTypes
	if err := xml.Unmarshal(data, &ct); err != nil {
		return docxDefaultPart
	}
	for _, o := range ct.Overrides {
		if o.ContentType == docxMainType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return docxDefaultPart
}

// collectText gathers the character data of every text element, ending a line
// at each paragraph element. Tabs and line breaks inside a paragraph are kept.
func collectText(data []byte, textElem string, paragraphs ...string) (string, error) {
	isParagraph := make(map[string]bool, len(paragraphs))
	for _, p := range paragraphs {
		isParagraph[p] = true
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		b      strings.Builder
		line   strings.Builder
		inText int
	)
	flush := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			b.WriteString(s)
			b.WriteByte('\n')
		}
		line.Reset()
	}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case textElem:
				inText++
			case "tab":
				line.WriteByte('\t')
			case "br", "line-break":
				line.WriteByte(' ')
			}
		case xml.EndElement:
			if t.Name.Local == textElem && inText > 0 {
				inText--
			}
			if isParagraph[t.Name.Local] {
				flush()
			}
		case xml.CharData:
			if inText > 0 {
				line.Write(t)
			}
		}
	}
	flush()
	return strings.TrimRight(b.String(), "\n"), nil
}

func docxText(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", err
	}
	data, err := readEntry(zr, docxMainPart(zr))
	if err != nil {
		return "", err
	}
	return collectText(data, "t", "p")
}

// pptxText joins the text of every slide in slide order, one blank line
// between slides.
func pptxText(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", err
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if path.Dir(f.Name) != path.Dir(pptxSlidePrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(f.Name, pptxSlidePrefix), ".xml")
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, name: f.Name})
	}
	if len(slides) == 0 {
		return "", fmt.Errorf("%w: %s*.xml", errMissingPart, pptxSlidePrefix)
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var parts []string
	for _, s := range slides {
		data, err := readEntry(zr, s.name)
		if err != nil {
			return "", err
		}
		text, err := collectText(data, "t", "p")
		if err != nil {
			return "", fmt.Errorf("slide %d: %w", s.n, err)
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
