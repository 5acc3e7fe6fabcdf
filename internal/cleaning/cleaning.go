// Package cleaning normalizes feed text and screens out low-value items
// before they reach the reasoning collaborator.
package cleaning

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	minLength      = 20
	shortLength    = 50
	noiseThreshold = 2
)

var adPhrases = []string{
	"扫描二维码",
	"关注公众号",
	"版权所有",
	"点击阅读原文",
	"Scan QR code",
	"All rights reserved",
}

// spamKeywords mark promotional or disclaimer text.
var spamKeywords = []string{
	"广告", "优惠", "促销", "点击链接", "关注公众号",
	"免责声明", "风险提示", "仅供参考", "不构成投资建议",
	"advertisement", "subscribe", "promo", "discount",
}

// noiseKeywords mark routine price-move and data-dump headlines.
var noiseKeywords = []string{
	"股价异动", "盘中异动", "快速拉升", "大宗交易",
	"融资净买入", "龙虎榜",
	"报", "元", "跌", "涨",
}

// CleanText strips HTML, removes boilerplate ad phrases and collapses
// whitespace.
func CleanText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	text := s
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			text = doc.Text()
		}
	}

	for _, phrase := range adPhrases {
		text = strings.ReplaceAll(text, phrase, "")
	}
	return strings.Join(strings.Fields(text), " ")
}

// IsWorthAnalyzing reports whether cleaned text carries enough signal to
// spend a collaborator call on.
func IsWorthAnalyzing(text string) bool {
	length := utf8.RuneCountInString(text)
	if length < minLength {
		return false
	}

	lower := strings.ToLower(text)
	for _, kw := range spamKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}

	score := 0
	for _, kw := range noiseKeywords {
		if strings.Contains(text, kw) {
			score++
		}
	}
	return !(score >= noiseThreshold && length < shortLength)
}
