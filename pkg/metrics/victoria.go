package metrics

import (
	"sort"
	"strings"

	vm "github.com/VictoriaMetrics/metrics"
)

// Victoria implements Collector on the VictoriaMetrics default registry.
// Series are exposed by internal/http via WritePrometheus.
type Victoria struct{}

func NewVictoria() Victoria {
	return Victoria{}
}

func (Victoria) IncCounter(name string, labels map[string]string, delta float64) {
	vm.GetOrCreateFloatCounter(series(name, labels)).Add(delta)
}

func (Victoria) SetGauge(name string, labels map[string]string, value float64) {
	vm.GetOrCreateFloatCounter(series(name, labels)).Set(value)
}

func (Victoria) ObserveHistogram(name string, labels map[string]string, value float64) {
	vm.GetOrCreateHistogram(series(name, labels)).Update(value)
}

// series renders name{k="v",...} with sorted label keys so the same labels
// always address the same series.
func series(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(labels[k])
		b.WriteString(`"`)
	}
	b.WriteByte('}')
	return b.String()
}
