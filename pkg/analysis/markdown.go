package analysis

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type Heading struct {
	Text  string `json:"text" yaml:"text"`
	Level int    `json:"level" yaml:"level"`
}

// RenderHTML converts the observer's markdown report to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ExtractHeadings lists the report sections in document order.
func ExtractHeadings(markdown string) ([]Heading, error) {
	source := []byte(markdown)
	document := goldmark.DefaultParser().Parse(text.NewReader(source))

	headings := []Heading{}
	err := ast.Walk(document, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			headings = append(headings, Heading{
				Text:  string(h.Text(source)),
				Level: h.Level,
			})
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return headings, nil
}
