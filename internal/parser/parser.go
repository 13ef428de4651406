package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"

	"grounded-rag/internal/models"
)

var errNoText = errors.New("document contains no extractable text")

// Parser converts an uploaded document into plain text.
type Parser interface {
	Extract(data []byte, ext string) (string, error)
}

// TextExtractor handles PDF and Word documents.
type TextExtractor struct{}

func (TextExtractor) Extract(data []byte, ext string) (string, error) {
	return Extract(data, ext)
}

// IsSupported reports whether files with ext can be extracted.
func IsSupported(ext string) bool {
	switch normalize(ext) {
	case ".pdf", ".docx", ".doc":
		return true
	}
	return false
}

// Extract returns the text of a .pdf, .docx or .doc document. Any other
// extension is rejected with an unsupported format error.
func Extract(data []byte, ext string) (string, error) {
	ext = normalize(ext)

	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = parsePDF(data)
	case ".docx", ".doc":
		text, err = parseDOCX(data)
	default:
		return "", models.UnsupportedFormatError(ext)
	}
	if err != nil {
		log.Warn().Err(err).Str("ext", ext).Msg("Text extraction failed")
		return "", &models.Error{Kind: models.KindValidation, Op: "parser.Extract", Msg: "Could not extract text from file", Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return "", &models.Error{Kind: models.KindValidation, Op: "parser.Extract", Msg: "Could not extract text from file", Err: errNoText}
	}
	return text, nil
}

func normalize(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// ExtOf returns the lower-cased extension of a file name.
func ExtOf(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

func parsePDF(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("malformed pdf")
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var pages []string
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}

func parseDOCX(data []byte) (string, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer r.Close()

	return documentText(r.Editable().GetContent())
}

// documentText pulls the run text out of WordprocessingML, one line per paragraph.
func documentText(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var (
		b      strings.Builder
		inText bool
	)
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
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}
