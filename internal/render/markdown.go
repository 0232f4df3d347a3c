// Package render turns agent message text into sanitized HTML.
//
// The supported subset is line oriented: ATX headings, ordered and unordered
// lists, pipe tables, fenced code, paragraphs, inline code, emphasis, links
// and images. Anything else is escaped text. Output always passes through the
// sanitizer policy.
package render

import (
	"html"
	"regexp"
	"strconv"
	"strings"
)

// Result is rendered HTML plus the images referenced by the text
type Result struct {
	HTML   string  `json:"html"`
	Images []Image `json:"images,omitempty"`
}

var (
	headingRe   = regexp.MustCompile(`^\s{0,3}(#{1,})\s+(.*?)\s*#*\s*$`)
	orderedRe   = regexp.MustCompile(`^\s*(\d{1,9})[.)]\s+(.*)$`)
	bulletRe    = regexp.MustCompile(`^\s*[-*+•]\s+(.*)$`)
	separatorRe = regexp.MustCompile(`^\s*\|?\s*:?-+:?\s*(?:\|\s*:?-+:?\s*)*\|?\s*$`)
	labelRe     = regexp.MustCompile(`(?i)^\s*(?:[-*+•]\s+)?(?:\*\*|__)?\s*(?:images?|photos?|pictures?|screenshots?)\s*:?\s*(?:\*\*|__)?\s*:?\s*$`)
	fenceRe     = regexp.MustCompile("^\\s*(```|~~~)")
)

// Render converts message text to sanitized HTML. It is deterministic and
// never fails; on an internal fault the text is returned escaped.
func Render(text string) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{HTML: Sanitize("<p>" + html.EscapeString(text) + "</p>")}
		}
	}()

	text = strings.Map(func(r rune) rune {
		if r >= '\uE000' && r <= '\uE003' {
			return -1
		}
		return r
	}, text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return Result{}
	}

	text, images := extractImages(text)
	b := &blocks{}
	b.parse(strings.Split(text, "\n"))

	return Result{
		HTML:   Sanitize(images.expand(b.out.String())),
		Images: images.images,
	}
}

type listItem struct {
	parts []string
	sub   *list
}

type list struct {
	ordered bool
	items   []*listItem
	// gap is set after a blank line; plain text then closes the list
	gap bool
}

type blocks struct {
	out  strings.Builder
	para []string
	list *list
}

func (b *blocks) parse(lines []string) {
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if m := fenceRe.FindStringSubmatch(line); m != nil {
			b.flush()
			i = b.code(lines, i+1, m[1])
			continue
		}
		if strings.TrimSpace(line) == "" {
			b.flushPara()
			if b.list != nil {
				b.list.gap = true
			}
			continue
		}
		if labelRe.MatchString(line) {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			b.flush()
			level := len(m[1])
			if level > 6 {
				level = 6
			}
			tag := "h" + strconv.Itoa(level)
			b.out.WriteString("<" + tag + ">" + inline(m[2]) + "</" + tag + ">")
			continue
		}
		if strings.Contains(line, "|") && i+1 < len(lines) && separatorRe.MatchString(lines[i+1]) && strings.Contains(lines[i+1], "-") {
			b.flush()
			i = b.table(lines, i)
			continue
		}
		if m := orderedRe.FindStringSubmatch(line); m != nil {
			b.ordered(m[2])
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			b.bullet(m[1])
			continue
		}
		b.text(line)
	}
	b.flush()
}

func (b *blocks) ordered(content string) {
	b.flushPara()
	if b.list == nil || !b.list.ordered {
		b.flushList()
		b.list = &list{ordered: true}
	}
	b.list.gap = false
	b.list.items = append(b.list.items, &listItem{parts: []string{inline(content)}})
}

// bullet opens an unordered list, or nests under the last ordered item
func (b *blocks) bullet(content string) {
	b.flushPara()
	item := &listItem{parts: []string{inline(content)}}
	switch {
	case b.list != nil && b.list.ordered && len(b.list.items) > 0:
		last := b.list.items[len(b.list.items)-1]
		if last.sub == nil {
			last.sub = &list{}
		}
		last.sub.items = append(last.sub.items, item)
	case b.list != nil && !b.list.ordered:
		b.list.items = append(b.list.items, item)
	default:
		b.flushList()
		b.list = &list{}
		b.list.items = append(b.list.items, item)
	}
	b.list.gap = false
}

// text continues the open list item or the current paragraph
func (b *blocks) text(line string) {
	if b.list != nil && !b.list.gap && !imageOnly(line) {
		item := b.list.items[len(b.list.items)-1]
		if item.sub != nil && len(item.sub.items) > 0 {
			item = item.sub.items[len(item.sub.items)-1]
		}
		item.parts = append(item.parts, inline(strings.TrimSpace(line)))
		return
	}
	b.flushList()
	b.para = append(b.para, strings.TrimSpace(line))
}

func (b *blocks) code(lines []string, i int, fence string) int {
	var body []string
	for ; i < len(lines); i++ {
		if strings.HasPrefix(strings.TrimSpace(lines[i]), fence) {
			break
		}
		body = append(body, lines[i])
	}
	b.out.WriteString("<pre><code>" + html.EscapeString(strings.Join(body, "\n")) + "</code></pre>")
	return i
}

func (b *blocks) table(lines []string, i int) int {
	header := splitRow(lines[i])
	b.out.WriteString("<table><thead><tr>")
	for _, cell := range header {
		b.out.WriteString("<th>" + inline(cell) + "</th>")
	}
	b.out.WriteString("</tr></thead><tbody>")

	i += 2
	for ; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "" || !strings.Contains(lines[i], "|") {
			break
		}
		cells := splitRow(lines[i])
		b.out.WriteString("<tr>")
		for c := range header {
			cell := ""
			if c < len(cells) {
				cell = cells[c]
			}
			b.out.WriteString("<td>" + inline(cell) + "</td>")
		}
		b.out.WriteString("</tr>")
	}
	b.out.WriteString("</tbody></table>")
	return i - 1
}

func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	if !strings.HasSuffix(line, `\|`) {
		line = strings.TrimSuffix(line, "|")
	}
	line = strings.ReplaceAll(line, `\|`, "\x00")
	parts := strings.Split(line, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(strings.ReplaceAll(p, "\x00", "|"))
	}
	return cells
}

func (b *blocks) flush() {
	b.flushPara()
	b.flushList()
}

// flushPara joins paragraph lines with line breaks; a line holding only
// images becomes a block of figures
func (b *blocks) flushPara() {
	var run []string
	emit := func() {
		if len(run) == 0 {
			return
		}
		parts := make([]string, len(run))
		for i, l := range run {
			parts[i] = inline(l)
		}
		b.out.WriteString("<p>" + strings.Join(parts, "<br>") + "</p>")
		run = nil
	}
	for _, l := range b.para {
		if imageOnly(l) {
			emit()
			b.out.WriteString(strings.Join(strings.Fields(l), ""))
			continue
		}
		run = append(run, l)
	}
	emit()
	b.para = nil
}

func (b *blocks) flushList() {
	if b.list == nil {
		return
	}
	writeList(&b.out, b.list)
	b.list = nil
}

func writeList(out *strings.Builder, l *list) {
	tag := "ul"
	if l.ordered {
		tag = "ol"
	}
	out.WriteString("<" + tag + ">")
	for _, item := range l.items {
		out.WriteString("<li>" + strings.Join(item.parts, "<br>"))
		if item.sub != nil {
			writeList(out, item.sub)
		}
		out.WriteString("</li>")
	}
	out.WriteString("</" + tag + ">")
}
