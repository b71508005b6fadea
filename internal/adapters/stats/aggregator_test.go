package stats

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/ghalamif/telemdeck/internal/adapters/codec"
)

func TestAggregatorBounds(t *testing.T) {
	a := NewAggregator([]string{"Vbat"})
	values := []string{"7.2", "8.9", "7.95", "8.1"}
	for _, v := range values {
		a.Observe(codec.Decode("data:Vbat:" + v))
	}

	st := a.Snapshot()["Vbat"]
	if st.Count != uint64(len(values)) {
		t.Fatalf("expected count %d, got %d", len(values), st.Count)
	}
	if st.Min != 7.2 || st.Max != 8.9 {
		t.Fatalf("unexpected bounds min=%f max=%f", st.Min, st.Max)
	}
	avg, ok := st.Avg()
	if !ok || math.Abs(avg*float64(st.Count)-st.Sum) > 1e-9 {
		t.Fatalf("avg*n should equal sum, avg=%f sum=%f", avg, st.Sum)
	}
	for _, v := range []float64{7.2, 8.9, 7.95, 8.1} {
		if v < st.Min || v > st.Max {
			t.Fatalf("value %f outside [%f, %f]", v, st.Min, st.Max)
		}
	}
}

func TestAggregatorSkipsAbsentAndText(t *testing.T) {
	a := NewAggregator(nil)
	a.Observe(codec.Decode("data:Vbat:abc Tfc:55"))
	a.Observe(codec.Decode("info:Vbat:9"))
	a.Observe(codec.Decode("junk"))

	snap := a.Snapshot()
	if snap["Vbat"].HasData() {
		t.Fatalf("text value must not update Vbat: %+v", snap["Vbat"])
	}
	if snap["Tfc"].Count != 1 {
		t.Fatalf("expected one Tfc sample, got %d", snap["Tfc"].Count)
	}
	if snap["Iout"].HasData() {
		t.Fatalf("absent metric must stay empty")
	}
}

func TestAggregatorResetRestoresSentinels(t *testing.T) {
	a := NewAggregator([]string{"Tfc"})
	a.Observe(codec.Decode("data:Tfc:70"))
	a.Reset()

	st := a.Snapshot()["Tfc"]
	if st.HasData() || !math.IsInf(st.Min, 1) || !math.IsInf(st.Max, -1) {
		t.Fatalf("expected sentinel state after reset, got %+v", st)
	}
	if !strings.Contains(st.String(), "--") {
		t.Fatalf("empty stat should render placeholder, got %q", st.String())
	}
}

func TestAggregatorSnapshotIsCopy(t *testing.T) {
	a := NewAggregator([]string{"Tfc"})
	snap := a.Snapshot()
	a.Observe(codec.Decode("data:Tfc:70"))
	if snap["Tfc"].HasData() {
		t.Fatalf("snapshot must not change after later observations")
	}
}

func TestAggregatorConcurrentReaders(t *testing.T) {
	a := NewAggregator(nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_ = a.Snapshot()
			}
		}()
	}
	for i := 0; i < 200; i++ {
		a.Observe(codec.Decode("data:Vbat:8 Tfc:60"))
	}
	wg.Wait()
	if got := a.Snapshot()["Vbat"].Count; got != 200 {
		t.Fatalf("expected 200 samples, got %d", got)
	}
}

func TestMetricStatJSONHidesSentinels(t *testing.T) {
	a := NewAggregator([]string{"Vbat"})
	raw, err := json.Marshal(a.Snapshot())
	if err != nil {
		t.Fatalf("marshal empty stats: %v", err)
	}
	if !strings.Contains(string(raw), `"min":null`) {
		t.Fatalf("expected null min for empty stat, got %s", raw)
	}
}
