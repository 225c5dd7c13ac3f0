package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const odfContentPart = "content.xml"

// openDocumentText extracts the paragraphs and headings of an OpenDocument
// text, presentation or spreadsheet file. Spreadsheet cells hold their values
// in text:p elements, so one routine serves all three.
func openDocumentText(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", err
	}
	data, err := readEntry(zr, odfContentPart)
	if err != nil {
		return "", err
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		b     strings.Builder
		line  strings.Builder
		depth int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", odfContentPart, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p", "h":
				depth++
			case "tab":
				line.WriteByte('\t')
			case "line-break":
				line.WriteByte(' ')
			case "s":
				n := 1
				for _, a := range t.Attr {
					if a.Name.Local == "c" {
						if c, err := strconv.Atoi(a.Value); err == nil && c > 0 {
							n = c
						}
					}
				}
				line.WriteString(strings.Repeat(" ", n))
			}
		case xml.EndElement:
			if t.Name.Local != "p" && t.Name.Local != "h" {
				continue
			}
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				if s := strings.TrimSpace(line.String()); s != "" {
					b.WriteString(s)
					b.WriteByte('\n')
				}
				line.Reset()
			}
		case xml.CharData:
			if depth > 0 {
				line.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
