// Package chart normalizes loosely-shaped chart payloads into a typed spec.
package chart

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/liliang-cn/crawldesk/internal/wire"
	"github.com/tidwall/gjson"
)

// Kind tags which half of Spec is populated
type Kind string

const (
	KindCategorical  Kind = "categorical"
	KindProportional Kind = "proportional"
)

// Canonical chart types
const (
	TypeBar     = "bar"
	TypeLine    = "line"
	TypeArea    = "area"
	TypeScatter = "scatter"
	TypePie     = "pie"
)

// Legend positions
const (
	LegendBottom = "bottom"
	LegendRight  = "right"
)

const (
	horizontalAfter   = 8
	longLabelRunes    = 14
	dataLabelsUpTo    = 12
	pieLegendBottomAt = 6
)

var typeAliases = map[string]string{
	"bar":           TypeBar,
	"column":        TypeBar,
	"horizontalbar": TypeBar,
	"histogram":     TypeBar,
	"line":          TypeLine,
	"spline":        TypeLine,
	"area":          TypeArea,
	"areaspline":    TypeArea,
	"scatter":       TypeScatter,
	"bubble":        TypeScatter,
	"point":         TypeScatter,
	"pie":           TypePie,
	"donut":         TypePie,
	"doughnut":      TypePie,
	"ring":          TypePie,
}

// Series is one named run of values aligned with the categories
type Series struct {
	Name string    `json:"name"`
	Data []float64 `json:"data"`
}

// Categorical holds bar, line, area and scatter data
type Categorical struct {
	Categories []string `json:"categories"`
	Series     []Series `json:"series"`
}

// Proportional holds pie data; every value is positive
type Proportional struct {
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Spec is a fully typed chart. Exactly one of Categorical and Proportional
// is set, matching Kind.
type Spec struct {
	Kind           Kind          `json:"kind"`
	Type           string        `json:"type"`
	Title          string        `json:"title,omitempty"`
	Height         int           `json:"height"`
	Horizontal     bool          `json:"horizontal,omitempty"`
	ShowDataLabels bool          `json:"showDataLabels,omitempty"`
	Legend         string        `json:"legend,omitempty"`
	Categorical    *Categorical  `json:"categorical,omitempty"`
	Proportional   *Proportional `json:"proportional,omitempty"`
}

// NormalizeType maps a chart type name onto a canonical type; unknown names
// become bar. The second result reports an explicitly horizontal bar type.
func NormalizeType(name string) (string, bool) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '_':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(name)))
	if key != "chart" {
		key = strings.TrimSuffix(key, "chart")
	}
	if t, ok := typeAliases[key]; ok {
		return t, key == "horizontalbar"
	}
	return TypeBar, false
}

// Adapt converts a chart payload into a Spec. It accepts JSON text, bytes or
// already decoded values, unwraps JSON held in strings, and returns nil when
// the payload has no usable data.
func Adapt(raw any) *Spec {
	r := toResult(raw)
	if !r.IsObject() && !r.IsArray() {
		return nil
	}

	body := r
	if d := wire.Unwrap(r.Get("data")); d.IsObject() {
		body = d
	}

	typ, horizontal := NormalizeType(wire.Text(wire.First(r, "type", "chartType", "chart.type", "kind")))
	if r.Get("horizontal").Bool() || r.Get("indexAxis").String() == "y" {
		horizontal = true
	}
	title := wire.Text(wire.First(r, "title.text", "title"))
	if strings.HasPrefix(strings.TrimSpace(title), "{") {
		title = ""
	}

	var spec *Spec
	if typ == TypePie {
		spec = proportional(r, body)
	} else {
		spec = categorical(r, body, typ, horizontal)
	}
	if spec != nil {
		spec.Title = title
	}
	return spec
}

func toResult(raw any) gjson.Result {
	switch v := raw.(type) {
	case nil:
		return gjson.Result{}
	case gjson.Result:
		return wire.Unwrap(v)
	case string:
		return wire.Parse([]byte(v))
	case []byte:
		return wire.Parse(v)
	case json.RawMessage:
		return wire.Parse(v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return gjson.Result{}
	}
	return wire.Parse(b)
}

func categorical(root, body gjson.Result, typ string, horizontal bool) *Spec {
	categories := labels(wire.First(body, "categories", "labels", "xAxis.categories", "x"))
	if len(categories) == 0 {
		categories = labels(wire.First(root, "categories", "labels", "xAxis.categories", "x"))
	}
	series, pointLabels := seriesFrom(root, body)
	if len(series) == 0 {
		return nil
	}
	if len(categories) == 0 {
		categories = pointLabels
	}
	if len(categories) == 0 {
		for i := 0; i < longest(series); i++ {
			categories = append(categories, strconv.Itoa(i+1))
		}
	}
	for i := range series {
		series[i].Data = fit(series[i].Data, len(categories))
	}

	n := len(categories)
	if typ == TypeBar && (n > horizontalAfter || maxRunes(categories) > longLabelRunes) {
		horizontal = true
	}
	if typ != TypeBar {
		horizontal = false
	}

	spec := &Spec{
		Kind:           KindCategorical,
		Type:           typ,
		Horizontal:     horizontal,
		ShowDataLabels: n <= dataLabelsUpTo,
		Categorical:    &Categorical{Categories: categories, Series: series},
	}
	if horizontal {
		spec.Height = clamp(n*32+80, 240, 900)
	} else {
		spec.Height = clamp(280+n*8, 300, 520)
	}
	if len(series) > 1 {
		spec.Legend = LegendBottom
	}
	return spec
}

// seriesFrom tries each supported shape in turn. Point arrays also yield
// their labels.
func seriesFrom(root, body gjson.Result) ([]Series, []string) {
	for _, src := range []gjson.Result{body, root} {
		for _, path := range []string{"series", "datasets"} {
			if s := namedSeries(wire.First(src, path)); len(s) > 0 {
				return s, nil
			}
		}
		for _, path := range []string{"points", "data", "series", "values"} {
			if cats, values := points(wire.First(src, path)); len(values) > 0 {
				return []Series{{Data: values}}, cats
			}
		}
		for _, path := range []string{"values", "data", "y"} {
			if data, ok := numbers(wire.First(src, path)); ok {
				return []Series{{Name: wire.Text(wire.First(src, "name", "label")), Data: data}}, nil
			}
		}
	}
	if cats, values := points(root); len(values) > 0 {
		return []Series{{Data: values}}, cats
	}
	if data, ok := numbers(root); ok {
		return []Series{{Data: data}}, nil
	}
	return nil, nil
}

// namedSeries reads a numeric array as one series or an array of
// {name|label, data|values} objects as several
func namedSeries(r gjson.Result) []Series {
	if !r.IsArray() {
		return nil
	}
	if data, ok := numbers(r); ok {
		return []Series{{Data: data}}
	}
	var out []Series
	for i, item := range r.Array() {
		item = wire.Unwrap(item)
		if !item.IsObject() {
			continue
		}
		data, ok := numbers(wire.First(item, "data", "values"))
		if !ok {
			continue
		}
		name := wire.Text(wire.First(item, "name", "label"))
		if name == "" {
			name = "Series " + strconv.Itoa(i+1)
		}
		out = append(out, Series{Name: name, Data: data})
	}
	return out
}

// points reads [{label|name|category|x, value|y}, ...]
func points(r gjson.Result) ([]string, []float64) {
	if !r.IsArray() {
		return nil, nil
	}
	var (
		cats   []string
		values []float64
	)
	for _, item := range r.Array() {
		item = wire.Unwrap(item)
		if !item.IsObject() {
			return nil, nil
		}
		v, ok := wire.Float(wire.First(item, "value", "y", "count", "amount"))
		if !ok {
			continue
		}
		cats = append(cats, wire.Text(wire.First(item, "label", "name", "category", "x")))
		values = append(values, v)
	}
	return cats, values
}

// numbers reads an array holding at least one numeric value; other entries
// become zero
func numbers(r gjson.Result) ([]float64, bool) {
	if !r.IsArray() {
		return nil, false
	}
	items := r.Array()
	out := make([]float64, len(items))
	found := false
	for i, item := range items {
		if item.IsObject() || item.IsArray() {
			return nil, false
		}
		if v, ok := wire.Float(item); ok {
			out[i] = v
			found = true
		}
	}
	return out, found
}

func labels(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	for _, item := range r.Array() {
		out = append(out, wire.Text(item))
	}
	return out
}

func fit(data []float64, n int) []float64 {
	if len(data) >= n {
		return data[:n]
	}
	return append(data, make([]float64, n-len(data))...)
}

func longest(series []Series) int {
	n := 0
	for _, s := range series {
		if len(s.Data) > n {
			n = len(s.Data)
		}
	}
	return n
}

func maxRunes(ss []string) int {
	n := 0
	for _, s := range ss {
		if c := utf8.RuneCountInString(s); c > n {
			n = c
		}
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
