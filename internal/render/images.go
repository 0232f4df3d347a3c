package render

import (
	"html"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
)

const (
	imgOpen  = "\uE000"
	imgClose = "\uE001"
)

var (
	mdImageRe   = regexp.MustCompile(`(!?)\[([^\]\n]*)\]\(\s*<?([^)\s>]+)>?(?:\s+"[^"]*")?\s*\)`)
	bareImageRe = regexp.MustCompile(`(?i)https?://[^\s<>"'()\[\]]+?\.(?:png|jpe?g|gif|webp|svg|bmp|avif)(?:\?[^\s<>"'()\[\]]*)?`)
	imgTokenRe  = regexp.MustCompile(imgOpen + `(\d+)` + imgClose)
	imageOnlyRe = regexp.MustCompile(`^(?:\s*` + imgOpen + `\d+` + imgClose + `)+\s*$`)
	imageExtRe  = regexp.MustCompile(`(?i)\.(?:png|jpe?g|gif|webp|svg|bmp|avif)$`)
)

// Image is an image reference found in message text
type Image struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// imageSet tracks figures by token index and distinct images in order
type imageSet struct {
	figures []Image
	seen    map[string]bool
	images  []Image
}

func (s *imageSet) token(img Image) string {
	s.figures = append(s.figures, img)
	if !s.seen[img.URL] {
		s.seen[img.URL] = true
		s.images = append(s.images, img)
	}
	return imgOpen + strconv.Itoa(len(s.figures)-1) + imgClose
}

// extractImages swaps markdown images, links to image files and bare image
// URLs for tokens. Only http(s) sources are extracted. Fenced blocks and
// code spans are left as written.
func extractImages(text string) (string, *imageSet) {
	set := &imageSet{seen: map[string]bool{}}

	lines := strings.Split(text, "\n")
	fence := ""
	for i, line := range lines {
		if fence != "" {
			if strings.HasPrefix(strings.TrimSpace(line), fence) {
				fence = ""
			}
			continue
		}
		if m := fenceRe.FindStringSubmatch(line); m != nil {
			fence = m[1]
			continue
		}
		lines[i] = outsideCodeSpans(line, set.replace)
	}
	return strings.Join(lines, "\n"), set
}

func (s *imageSet) replace(text string) string {
	text = mdImageRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := mdImageRe.FindStringSubmatch(m)
		bang, alt, src := sub[1] == "!", strings.TrimSpace(sub[2]), sub[3]
		if !webURL(src) || (!bang && !isImageURL(src)) {
			return m
		}
		return s.token(Image{URL: src, Alt: alt})
	})
	return bareImageRe.ReplaceAllStringFunc(text, func(m string) string {
		return s.token(Image{URL: m})
	})
}

// outsideCodeSpans applies fn to the parts of line that inline would not
// format as code
func outsideCodeSpans(line string, fn func(string) string) string {
	spans := codeSpanRe.FindAllStringIndex(line, -1)
	if len(spans) == 0 {
		return fn(line)
	}
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(fn(line[last:sp[0]]))
		b.WriteString(line[sp[0]:sp[1]])
		last = sp[1]
	}
	b.WriteString(fn(line[last:]))
	return b.String()
}

// expand replaces tokens with figure markup
func (s *imageSet) expand(out string) string {
	return imgTokenRe.ReplaceAllStringFunc(out, func(m string) string {
		i, err := strconv.Atoi(imgTokenRe.FindStringSubmatch(m)[1])
		if err != nil || i >= len(s.figures) {
			return ""
		}
		return figure(s.figures[i])
	})
}

func figure(img Image) string {
	var b strings.Builder
	b.WriteString(`<figure><img src="`)
	b.WriteString(html.EscapeString(img.URL))
	b.WriteString(`" alt="`)
	b.WriteString(html.EscapeString(img.Alt))
	b.WriteString(`" loading="lazy">`)
	if img.Alt != "" {
		b.WriteString("<figcaption>")
		b.WriteString(html.EscapeString(img.Alt))
		b.WriteString("</figcaption>")
	}
	b.WriteString("</figure>")
	return b.String()
}

func webURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return imageExtRe.MatchString(path.Base(u.Path))
}

func imageOnly(line string) bool {
	return imageOnlyRe.MatchString(line)
}
