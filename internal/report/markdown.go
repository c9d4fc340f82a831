package report

import (
	"strings"

	"stock_review/internal/models"
)

// markdownTable 渲染 GFM 管道表格；空表只输出表头
func markdownTable(t *models.Table) string {
	if t == nil || len(t.Header) == 0 {
		return ""
	}
	var b strings.Builder
	writeRow(&b, t.Header)
	sep := make([]string, len(t.Header))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(&b, sep)
	for _, rec := range t.Rows {
		cells := make([]string, len(t.Header))
		copy(cells, rec)
		writeRow(&b, cells)
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(escapeCell(c))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func poolMarkdown(p *models.Pool) (string, error) {
	t, err := models.PoolTable(p)
	if err != nil {
		return "", err
	}
	return markdownTable(t), nil
}
