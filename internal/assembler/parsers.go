package assembler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino/components/document/parser"
	"github.com/cloudwego/eino/schema"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// pdfParser extracts the plain text of every page.
type pdfParser struct{}

func (pdfParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) (docs []*schema.Document, err error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	// corrupt streams panic inside the pdf reader
	defer func() {
		if r := recover(); r != nil {
			docs, err = nil, fmt.Errorf("pdf extraction failed: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return single(sb.String(), opts), nil
}

// htmlParser keeps the visible text of a page.
type htmlParser struct{}

func (htmlParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return single(strings.Join(lines, "\n"), opts), nil
}

// xlsxParser renders every sheet as tab separated rows.
type xlsxParser struct{}

func (xlsxParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	f, err := excelize.OpenReader(reader)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()
	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		fmt.Fprintf(&sb, "## Sheet: %s\n", sheet)
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteString("\n")
		}
	}
	return single(sb.String(), opts), nil
}

func single(content string, opts []parser.Option) []*schema.Document {
	common := parser.GetCommonOptions(&parser.Options{}, opts...)
	meta := map[string]any{}
	for k, v := range common.ExtraMeta {
		meta[k] = v
	}
	if common.URI != "" {
		meta["uri"] = common.URI
	}
	return []*schema.Document{{Content: content, MetaData: meta}}
}

// NewDocumentParser dispatches on file extension, ignoring its case, and falls
// back to plain text.
func NewDocumentParser(ctx context.Context) (parser.Parser, error) {
	inner, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		Parsers: map[string]parser.Parser{
			".pdf":  pdfParser{},
			".html": htmlParser{},
			".htm":  htmlParser{},
			".xlsx": xlsxParser{},
		},
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, err
	}
	return foldedExtParser{inner: inner}, nil
}

// foldedExtParser lower-cases the extension before the ExtParser lookup,
// which matches keys verbatim.
type foldedExtParser struct {
	inner parser.Parser
}

func (p foldedExtParser) Parse(ctx context.Context, reader io.Reader, opts ...parser.Option) ([]*schema.Document, error) {
	uri := parser.GetCommonOptions(&parser.Options{}, opts...).URI
	ext := filepath.Ext(uri)
	lower := strings.ToLower(ext)
	if lower == ext {
		return p.inner.Parse(ctx, reader, opts...)
	}
	folded := append(opts[:len(opts):len(opts)], parser.WithURI(strings.TrimSuffix(uri, ext)+lower))
	docs, err := p.inner.Parse(ctx, reader, folded...)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if _, ok := d.MetaData["uri"]; ok {
			d.MetaData["uri"] = uri
		}
	}
	return docs, nil
}
