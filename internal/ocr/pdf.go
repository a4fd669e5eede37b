package ocr

import (
	"bytes"
	"math"
	"strings"

	"rsc.io/pdf"
)

const lineTolerance = 1.0

// recognizePDF answers from the document's embedded text layer. Glyph runs
// sharing a baseline are merged into one text item per line.
func recognizePDF(data []byte) (resp Response) {
	defer func() {
		// rsc.io/pdf panics on some malformed documents.
		if r := recover(); r != nil {
			resp = failure("PDF解析错误: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return failure("PDF解析错误: %v", err)
	}

	var items []TextItem
	pages := reader.NumPage()
	for pageNum := 1; pageNum <= pages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		items = append(items, pageLines(page.Content().Text)...)
	}

	if len(items) == 0 {
		return failure("PDF没有可识别的文本层")
	}

	return Response{
		Success:   true,
		Message:   successMessage,
		Data:      map[string]any{"Source": "pdf_text_layer", "Pages": pages},
		TextItems: items,
	}
}

type lineBuilder struct {
	text        strings.Builder
	x, y, right float64
	height      float64
}

func (l *lineBuilder) item() TextItem {
	return TextItem{
		Text: strings.TrimSpace(l.text.String()),
		Position: Position{
			X:      int(math.Round(l.x)),
			Y:      int(math.Round(l.y)),
			Width:  int(math.Round(l.right - l.x)),
			Height: int(math.Round(l.height)),
		},
	}
}

func pageLines(texts []pdf.Text) []TextItem {
	var (
		out     []TextItem
		current *lineBuilder
	)
	flush := func() {
		if current == nil {
			return
		}
		if item := current.item(); item.Text != "" {
			out = append(out, item)
		}
		current = nil
	}

	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if current != nil && math.Abs(t.Y-current.y) > lineTolerance {
			flush()
		}
		if current == nil {
			current = &lineBuilder{x: t.X, y: t.Y, right: t.X}
		}
		current.text.WriteString(t.S)
		current.x = math.Min(current.x, t.X)
		current.right = math.Max(current.right, t.X+t.W)
		current.height = math.Max(current.height, t.FontSize)
	}
	flush()

	return out
}
