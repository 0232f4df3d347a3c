package render

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// slot markers survive html escaping; input is stripped of them first
const (
	slotOpen  = "\uE002"
	slotClose = "\uE003"
)

var (
	codeSpanRe   = regexp.MustCompile("`([^`\n]+)`")
	mdLinkRe     = regexp.MustCompile(`\[([^\]\n]+)\]\(\s*(https?://[^\s)]+|mailto:[^\s)]+)\s*\)`)
	bareURLRe    = regexp.MustCompile(`https?://[^\s<>"'` + "`" + `]+`)
	slotRe       = regexp.MustCompile(slotOpen + `(\d+)` + slotClose)
	boldStarRe   = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	boldUnderRe  = regexp.MustCompile(`__([^_\n]+?)__`)
	emStarRe     = regexp.MustCompile(`\*([^*\s](?:[^*\n]*?[^*\s])?)\*`)
	emUnderRe    = regexp.MustCompile(`(^|[^A-Za-z0-9_])_([^_\s](?:[^_\n]*?[^_\s])?)_([^A-Za-z0-9_]|$)`)
	urlTrailTrim = ".,;:!?)]'\""
)

// inline formats one line of text. Code spans and links are set aside
// before escaping so emphasis markers inside them stay literal.
func inline(s string) string {
	var slots []string
	stash := func(fragment string) string {
		slots = append(slots, fragment)
		return slotOpen + strconv.Itoa(len(slots)-1) + slotClose
	}

	s = codeSpanRe.ReplaceAllStringFunc(s, func(m string) string {
		return stash("<code>" + html.EscapeString(m[1:len(m)-1]) + "</code>")
	})
	s = mdLinkRe.ReplaceAllStringFunc(s, func(m string) string {
		sub := mdLinkRe.FindStringSubmatch(m)
		return stash(anchor(sub[2], emphasis(html.EscapeString(sub[1]))))
	})
	s = bareURLRe.ReplaceAllStringFunc(s, func(m string) string {
		u := strings.TrimRight(m, urlTrailTrim)
		// keep a closing paren that belongs to the URL
		for strings.Count(u, "(") > strings.Count(u, ")") && len(u) < len(m) && m[len(u)] == ')' {
			u = m[:len(u)+1]
		}
		return stash(anchor(u, html.EscapeString(u))) + m[len(u):]
	})

	s = emphasis(html.EscapeString(s))

	// link text may itself hold a code slot
	for depth := 0; depth < 3 && strings.Contains(s, slotOpen); depth++ {
		s = slotRe.ReplaceAllStringFunc(s, func(m string) string {
			i, err := strconv.Atoi(slotRe.FindStringSubmatch(m)[1])
			if err != nil || i >= len(slots) {
				return ""
			}
			return slots[i]
		})
	}
	return s
}

func anchor(href, text string) string {
	return `<a href="` + html.EscapeString(href) + `">` + text + `</a>`
}

// emphasis applies bold then italic to already-escaped text
func emphasis(s string) string {
	s = boldStarRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = boldUnderRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = emStarRe.ReplaceAllString(s, "<em>$1</em>")
	// adjacent matches share a boundary character, so a second pass picks up the rest
	for i := 0; i < 2; i++ {
		s = emUnderRe.ReplaceAllString(s, "$1<em>$2</em>$3")
	}
	return s
}
