package htmlutil

import (
	"bytes"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

// CleanText collapses a text node's contents down to a single printable line.
func CleanText(node *html.Node) string {
	text := GetText(node)

	var out strings.Builder
	lastSpace := true
	for _, c := range text {
		if unicode.IsSpace(c) {
			if !lastSpace {
				out.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		if !unicode.IsPrint(c) {
			continue
		}
		out.WriteRune(c)
		lastSpace = false
	}
	return strings.TrimRight(out.String(), " ")
}
