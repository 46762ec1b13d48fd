package tools

import (
	"html"
	"regexp"
	"strings"
)

// extractJSON pretty-prints JSON bodies; anything that fails to parse is
// passed through untouched.
func extractJSON(body []byte) (string, string) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return string(body), "raw"
	}
	formatted, _ := json.MarshalIndent(data, "", "  ")
	return string(formatted), "json"
}

// htmlRule rewrites one HTML construct into its text rendering.
type htmlRule struct {
	re  *regexp.Regexp
	rep string
}

func applyRules(s string, rules []htmlRule) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.rep)
	}
	return s
}

// Regions that never carry article content.
var (
	chromeRe = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script[\s\S]*?</script>`),
		regexp.MustCompile(`(?is)<style[\s\S]*?</style>`),
		regexp.MustCompile(`<!--[\s\S]*?-->`),
		regexp.MustCompile(`(?is)<nav[\s\S]*?</nav>`),
		regexp.MustCompile(`(?is)<footer[\s\S]*?</footer>`),
	}
	pageHeaderRe = regexp.MustCompile(`(?is)<header[\s\S]*?</header>`)

	reTag     = regexp.MustCompile(`<[^>]+>`)
	reMultiNL = regexp.MustCompile(`\n{3,}`)
	reMultiSP = regexp.MustCompile(`[ \t]{2,}`)
	reBlockq  = regexp.MustCompile(`(?is)<blockquote[^>]*>([\s\S]*?)</blockquote>`)
)

// Heading and code constructs, rewritten before inline markup so their inner
// tags survive into the capture groups.
var structureRules = []htmlRule{
	{regexp.MustCompile(`(?i)<h1[^>]*>([\s\S]*?)</h1>`), "\n# $1\n"},
	{regexp.MustCompile(`(?i)<h2[^>]*>([\s\S]*?)</h2>`), "\n## $1\n"},
	{regexp.MustCompile(`(?i)<h3[^>]*>([\s\S]*?)</h3>`), "\n### $1\n"},
	{regexp.MustCompile(`(?i)<h4[^>]*>([\s\S]*?)</h4>`), "\n#### $1\n"},
	{regexp.MustCompile(`(?i)<h5[^>]*>([\s\S]*?)</h5>`), "\n##### $1\n"},
	{regexp.MustCompile(`(?i)<h6[^>]*>([\s\S]*?)</h6>`), "\n###### $1\n"},
	{regexp.MustCompile(`(?is)<pre[^>]*>([\s\S]*?)</pre>`), "\n```\n$1\n```\n"},
	{regexp.MustCompile(`(?i)<code[^>]*>([\s\S]*?)</code>`), "`$1`"},
}

var inlineRules = []htmlRule{
	{regexp.MustCompile(`(?i)<a[^>]*href="([^"]*)"[^>]*>([\s\S]*?)</a>`), "[$2]($1)"},
	{regexp.MustCompile(`(?i)<img[^>]*alt="([^"]*)"[^>]*/?>`), "![$1]"},
	{regexp.MustCompile(`(?i)<(?:strong|b)[^>]*>([\s\S]*?)</(?:strong|b)>`), "**$1**"},
	{regexp.MustCompile(`(?i)<(?:em|i)[^>]*>([\s\S]*?)</(?:em|i)>`), "*$1*"},
}

var blockRules = []htmlRule{
	{regexp.MustCompile(`(?i)<p[^>]*>([\s\S]*?)</p>`), "\n$1\n"},
	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},
	{regexp.MustCompile(`(?i)<li[^>]*>([\s\S]*?)</li>`), "\n- $1"},
}

func stripChrome(s string) string {
	for _, re := range chromeRe {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// htmlToMarkdown converts HTML to a markdown-like rendering. A regex pass,
// not a full Readability implementation, but it covers common pages.
func htmlToMarkdown(src string) string {
	s := stripChrome(src)
	s = applyRules(s, structureRules)
	s = quoteBlockquotes(s)
	s = applyRules(s, inlineRules)
	s = applyRules(s, blockRules)
	s = reTag.ReplaceAllString(s, "")

	s = html.UnescapeString(s)
	s = reMultiNL.ReplaceAllString(s, "\n\n")
	s = reMultiSP.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func quoteBlockquotes(s string) string {
	return reBlockq.ReplaceAllStringFunc(s, func(match string) string {
		m := reBlockq.FindStringSubmatch(match)
		if len(m) < 2 {
			return match
		}
		lines := strings.Split(strings.TrimSpace(m[1]), "\n")
		for i, l := range lines {
			lines[i] = "> " + strings.TrimSpace(l)
		}
		return "\n" + strings.Join(lines, "\n") + "\n"
	})
}

// htmlToText extracts plain text: page chrome (including the header banner)
// dropped, block structure kept as line breaks, every tag removed.
func htmlToText(src string) string {
	s := pageHeaderRe.ReplaceAllString(stripChrome(src), "")
	s = applyRules(s, blockRules)
	s = reTag.ReplaceAllString(s, "")

	s = html.UnescapeString(s)
	s = reMultiSP.ReplaceAllString(s, " ")
	s = reMultiNL.ReplaceAllString(s, "\n\n")

	lines := strings.Split(s, "\n")
	clean := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			clean = append(clean, line)
		}
	}
	return strings.Join(clean, "\n")
}

var (
	mdHeadingRe = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeRe    = regexp.MustCompile("`[^`]+`")
	mdImageRe   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
)

// markdownToText strips markdown formatting for text mode.
func markdownToText(md string) string {
	s := mdHeadingRe.ReplaceAllString(md, "")
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "__", "")
	s = mdCodeRe.ReplaceAllStringFunc(s, func(m string) string {
		return strings.Trim(m, "`")
	})
	s = mdImageRe.ReplaceAllString(s, "$1")
	s = mdLinkRe.ReplaceAllString(s, "$1")
	s = reMultiNL.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
