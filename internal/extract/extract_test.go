package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const wordBody = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:tabs><w:tab w:val="left" w:pos="720"/></w:tabs></w:pPr><w:r><w:t>Tide</w:t></w:r><w:r><w:t xml:space="preserve"> pools</w:t></w:r></w:p>
<w:p><w:r><w:t>hold &amp; shelter</w:t></w:r><w:r><w:tab/><w:t>anemones</w:t></w:r></w:p>
<w:p></w:p>
</w:body>
</w:document>`

func TestExtractBytes_Plain(t *testing.T) {
	e := NewExtractor()
	text, err := e.ExtractBytes([]byte("# Heading\nbody"), ".md")
	require.NoError(t, err)
	assert.Equal(t, "# Heading\nbody", text)

	text, err = e.ExtractBytes([]byte{'o', 'k', 0xff}, "TXT")
	require.NoError(t, err)
	assert.Equal(t, "ok\ufffd", text)
}

func TestExtractBytes_UnregisteredExtension(t *testing.T) {
	e := NewExtractor()
	text, err := e.ExtractBytes([]byte("key = value"), ".toml")
	require.NoError(t, err)
	assert.Equal(t, "key = value", text)

	_, err = e.ExtractBytes([]byte{0x00, 0xff, 0xfe}, ".bin")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestDocxText(t *testing.T) {
	content := zipOf(t, map[string]string{"word/document.xml": wordBody})
	text, err := docxText(content)
	require.NoError(t, err)
	assert.Equal(t, "Tide pools\nhold & shelter\tanemones", text)
}

func TestDocxText_ContentTypesPart(t *testing.T) {
	content := zipOf(t, map[string]string{
		"[Content_Types].xml": `<?xml version="1.0"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Override ContentType="` + docxMainType + `" PartName="/word/main.xml"/>
</Types>`,
		"word/main.xml": wordBody,
	})
	text, err := docxText(content)
	require.NoError(t, err)
	assert.Contains(t, text, "Tide pools")
}

func TestDocxText_Errors(t *testing.T) {
	_, err := docxText([]byte("not a zip"))
	assert.Error(t, err)

	_, err = docxText(zipOf(t, map[string]string{"other.xml": "<a/>"}))
	assert.ErrorIs(t, err, errMissingPart)
}

func TestPptxText_SlideOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:p="p" xmlns:a="a"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` +
			text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	content := zipOf(t, map[string]string{
		"ppt/slides/slide10.xml":           slide("ten"),
		"ppt/slides/slide2.xml":            slide("two"),
		"ppt/slides/slide1.xml":            slide("one"),
		"ppt/slides/_rels/slide1.xml.rels": "<Relationships/>",
	})
	text, err := pptxText(content)
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo\n\nten", text)

	_, err = pptxText(zipOf(t, map[string]string{"ppt/presentation.xml": "<p/>"}))
	assert.ErrorIs(t, err, errMissingPart)
}

func TestOpenDocumentText(t *testing.T) {
	odt := zipOf(t, map[string]string{"content.xml": `<?xml version="1.0"?>
<office:document-content xmlns:office="o" xmlns:text="t" xmlns:table="tb">
<office:body><office:text>
<text:h>Basalt</text:h>
<text:p>Cooled <text:span>lava</text:span> forms<text:s text:c="2"/>columns.</text:p>
</office:text></office:body></office:document-content>`})
	text, err := openDocumentText(odt)
	require.NoError(t, err)
	assert.Equal(t, "Basalt\nCooled lava forms  columns.", text)

	ods := zipOf(t, map[string]string{"content.xml": `<office:document-content xmlns:office="o" xmlns:text="t" xmlns:table="tb">
<office:body><office:spreadsheet><table:table>
<table:table-row><table:table-cell><text:p>depth</text:p></table:table-cell><table:table-cell><text:p>42</text:p></table:table-cell></table:table-row>
</table:table></office:spreadsheet></office:body></office:document-content>`})
	text, err = openDocumentText(ods)
	require.NoError(t, err)
	assert.Equal(t, "depth\n42", text)

	_, err = openDocumentText(zipOf(t, map[string]string{"meta.xml": "<m/>"}))
	assert.ErrorIs(t, err, errMissingPart)
}

func TestExcelText(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "station"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "rainfall"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "north"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 31))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	text, err := excelText(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Sheet1\nstation\trainfall\nnorth\t31", text)

	_, err = excelText([]byte("not a workbook"))
	assert.Error(t, err)
}

func TestPdfText_Invalid(t *testing.T) {
	_, err := pdfText([]byte("plain bytes, not a pdf"))
	assert.Error(t, err)
}

func TestExtract_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.docx")
	require.NoError(t, os.WriteFile(path, zipOf(t, map[string]string{"word/document.xml": wordBody}), 0644))

	e := NewExtractor()
	text, err := e.Extract(path)
	require.NoError(t, err)
	assert.Contains(t, text, "anemones")

	_, err = e.Extract(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	broken := filepath.Join(dir, "broken.pptx")
	require.NoError(t, os.WriteFile(broken, []byte("zzz"), 0644))
	_, err = e.Extract(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.pptx")
}

func TestRegisterAndSupported(t *testing.T) {
	e := NewExtractor()
	assert.True(t, e.Supported("PDF"))
	assert.True(t, e.Supported(".ods"))
	assert.False(t, e.Supported(".epub"))

	e.Register("epub", func([]byte) (string, error) { return "book", nil })
	assert.True(t, e.Supported(".epub"))
	text, err := e.ExtractBytes(nil, ".EPUB")
	require.NoError(t, err)
	assert.Equal(t, "book", text)

	exts := e.Extensions()
	assert.Contains(t, exts, ".epub")
	assert.IsNonDecreasing(t, exts)
}
