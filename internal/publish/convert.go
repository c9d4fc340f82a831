// Package publish 把 Markdown 报告转换为公众号可用的内联样式 HTML，并提交为草稿。
package publish

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	frontMatterPattern = regexp.MustCompile(`(?s)^---.*?---`)
	titlePattern       = regexp.MustCompile(`(?m)^title:\s*"?([^"\n]*)"?\s*$`)
	keywordPattern     = regexp.MustCompile(`涨停|跌停|炸板`)
)

const wrapperStyle = "font-family: -apple-system-font, system-ui, sans-serif; letter-spacing: 0.5px; padding: 10px;"

const headingStyle = "margin: 25px 0 15px; padding-left: 10px; border-left: 5px solid #07C160; font-size: 19px; font-weight: bold; color: #333; line-height: 1.5;"

// 公众号不支持外部样式表，全部写成内联样式
var tagStyles = map[string]string{
	"h2":         headingStyle,
	"h3":         headingStyle,
	"p":          "margin: 12px 0; line-height: 1.7; color: #3f3f3f; font-size: 15px; text-align: justify;",
	"table":      "width: 100%; border-collapse: collapse; margin: 15px 0; font-size: 12px; table-layout: fixed;",
	"th":         "background-color: #f1f1f1; border: 1px solid #dfe2e5; padding: 10px; font-weight: bold; color: #555;",
	"td":         "border: 1px solid #dfe2e5; padding: 10px; text-align: left; word-break: break-all;",
	"strong":     "color: #d63031; font-weight: bold;",
	"blockquote": "margin: 15px 0; padding: 15px; border-left: 4px solid #07C160; background: #f8f8f8; color: #666;",
	"ul":         "margin: 10px 0; padding-left: 20px; list-style-type: disc;",
	"li":         "list-style-position: inside; margin: 8px 0; line-height: 1.6; color: #3f3f3f; font-size: 15px;",
}

var keywordColors = map[string]string{
	"涨停": "#e84118",
	"跌停": "#4cd137",
	"炸板": "#fa8231",
}

// StripFrontMatter 去掉开头的 front matter
func StripFrontMatter(md []byte) []byte {
	return frontMatterPattern.ReplaceAll(md, nil)
}

// FrontMatterTitle 读取 front matter 中的标题
func FrontMatterTitle(md []byte) string {
	fm := frontMatterPattern.Find(md)
	if fm == nil {
		return ""
	}
	if m := titlePattern.FindSubmatch(fm); m != nil {
		return strings.TrimSpace(string(m[1]))
	}
	return ""
}

// ConvertMarkdown Markdown -> 内联样式 HTML
func ConvertMarkdown(md []byte) (string, error) {
	md = StripFrontMatter(md)

	converter := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var buf bytes.Buffer
	if err := converter.Convert(md, &buf); err != nil {
		return "", fmt.Errorf("转换 Markdown 失败: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	for tag, style := range tagStyles {
		doc.Find(tag).SetAttr("style", style)
	}

	body := doc.Find("body")
	for _, n := range body.Nodes {
		highlightKeywords(n)
	}
	inner, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("生成 HTML 失败: %w", err)
	}
	return fmt.Sprintf(`<div style="%s">%s</div>`, wrapperStyle, inner), nil
}

// highlightKeywords 把文本节点中的关键词包进带颜色的 span
func highlightKeywords(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.TextNode:
			splitKeywords(n, c)
		case html.ElementNode:
			highlightKeywords(c)
		}
		c = next
	}
}

func splitKeywords(parent, text *html.Node) {
	locs := keywordPattern.FindAllStringIndex(text.Data, -1)
	if len(locs) == 0 {
		return
	}
	pos := 0
	for _, loc := range locs {
		if loc[0] > pos {
			parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text.Data[pos:loc[0]]}, text)
		}
		word := text.Data[loc[0]:loc[1]]
		span := &html.Node{
			Type:     html.ElementNode,
			Data:     "span",
			DataAtom: atom.Span,
			Attr:     []html.Attribute{{Key: "style", Val: "color: " + keywordColors[word] + "; font-weight: bold;"}},
		}
		span.AppendChild(&html.Node{Type: html.TextNode, Data: word})
		parent.InsertBefore(span, text)
		pos = loc[1]
	}
	if pos < len(text.Data) {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: text.Data[pos:]}, text)
	}
	parent.RemoveChild(text)
}
