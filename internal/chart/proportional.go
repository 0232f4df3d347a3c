package chart

import (
	"strconv"

	"github.com/liliang-cn/crawldesk/internal/wire"
	"github.com/tidwall/gjson"
)

func proportional(root, body gjson.Result) *Spec {
	lbls, vals := pieData(root, body)

	data := &Proportional{}
	for i, v := range vals {
		if !(v > 0) {
			continue
		}
		label := ""
		if i < len(lbls) {
			label = lbls[i]
		}
		if label == "" {
			label = "Item " + strconv.Itoa(i+1)
		}
		data.Labels = append(data.Labels, label)
		data.Values = append(data.Values, v)
	}
	n := len(data.Values)
	if n == 0 {
		return nil
	}

	legend := LegendBottom
	if n > pieLegendBottomAt {
		legend = LegendRight
	}
	return &Spec{
		Kind:         KindProportional,
		Type:         TypePie,
		Height:       clamp(260+max(0, n-pieLegendBottomAt)*20, 260, 560),
		Legend:       legend,
		Proportional: data,
	}
}

// pieData finds labels and values in labels/values, categories/series,
// series[0].data, datasets[0].data or a point array
func pieData(root, body gjson.Result) ([]string, []float64) {
	for _, src := range []gjson.Result{body, root} {
		lbls := labels(wire.First(src, "labels", "categories", "xAxis.categories"))
		for _, path := range []string{"values", "data", "series"} {
			if vals, ok := numbers(wire.First(src, path)); ok {
				return orLabels(lbls, src), vals
			}
		}
		for _, path := range []string{"series", "datasets"} {
			items := wire.First(src, path)
			if !items.IsArray() || len(items.Array()) == 0 {
				continue
			}
			first := wire.Unwrap(items.Array()[0])
			inner := wire.First(first, "data", "values")
			if vals, ok := numbers(inner); ok {
				return orLabels(lbls, src), vals
			}
			if pl, pv := points(inner); len(pv) > 0 {
				return pl, pv
			}
		}
		for _, path := range []string{"points", "data", "series", "values"} {
			if pl, pv := points(wire.First(src, path)); len(pv) > 0 {
				return pl, pv
			}
		}
	}
	if pl, pv := points(root); len(pv) > 0 {
		return pl, pv
	}
	return nil, nil
}

// orLabels falls back to labels held next to the data when the body had none
func orLabels(lbls []string, src gjson.Result) []string {
	if len(lbls) > 0 {
		return lbls
	}
	return labels(wire.First(src, "names", "keys"))
}
