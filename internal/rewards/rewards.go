// Package rewards cleans up card reward details returned by the backend.
// The raw content is issuer HTML; it is reduced to plain text and mined for
// reward categories when the backend sent none.
package rewards

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"smartswipe/syncclient/services/api"
)

// DefaultCards are shown when no cashback summary names any card
var DefaultCards = []string{
	"Chase Sapphire Preferred",
	"Citi Double Cash",
	"American Express Gold",
	"Capital One Venture",
}

// HighlightCount is how many categories a card summary lists
const HighlightCount = 3

// blocks each render as one line of text
const blocks = "h1, h2, h3, h4, h5, h6, p, li, td, th, dt, dd"

// Normalize returns d with plain-text raw content, trimmed categories and
// the card name filled in. name is the name the details were requested by.
func Normalize(name string, d api.CardRewardDetails) (api.CardRewardDetails, error) {
	out := d
	if out.CardType == "" {
		out.CardType = name
	}
	if out.ExtraInfo.CardName == "" {
		out.ExtraInfo.CardName = out.CardType
	}
	out.RewardCategories = cleanList(d.RewardCategories)

	if strings.TrimSpace(d.RawContent) == "" || !strings.Contains(d.RawContent, "<") {
		out.RawContent = collapse(d.RawContent)
		return out, nil
	}

	doc, err := createDocument(d.RawContent)
	if err != nil {
		return out, err
	}
	doc.Find("script, style, noscript").Remove()

	if len(out.RewardCategories) == 0 {
		out.RewardCategories = listItems(doc.Selection)
	}
	out.RawContent = plainText(doc.Selection)
	return out, nil
}

// Highlights returns the first HighlightCount categories and how many more there are
func Highlights(categories []string) ([]string, int) {
	if len(categories) <= HighlightCount {
		return categories, 0
	}
	return categories[:HighlightCount], len(categories) - HighlightCount
}

func createDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse reward content: %w", err)
	}
	return doc, nil
}

// listItems collects the text of every leaf <li>
func listItems(s *goquery.Selection) []string {
	var items []string
	s.Find("li").Each(func(i int, li *goquery.Selection) {
		if li.Find("li").Length() > 0 {
			return
		}
		items = append(items, li.Text())
	})
	return cleanList(items)
}

// plainText renders block elements one per line, falling back to the whole text
func plainText(s *goquery.Selection) string {
	var lines []string
	s.Find(blocks).Each(func(i int, b *goquery.Selection) {
		if b.Find(blocks).Length() > 0 {
			return
		}
		if line := collapse(b.Text()); line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return collapse(s.Text())
	}
	return strings.Join(lines, "\n")
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item = collapse(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
