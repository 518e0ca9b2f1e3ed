package metrics

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var streamSpec = TableSpec{
	Marker:       "Solution Validates",
	MarkerOffset: -3,
	Rows: []RowRule{
		{Metric: "Copy", LineOffset: -8},
		{Metric: "Scale", LineOffset: -7},
		{Metric: "Add", LineOffset: -6},
		{Metric: "Triad", LineOffset: -5},
	},
	Columns: []ColumnRule{
		{Value: "Best Rate MB/s", Column: 1},
		{Value: "Avg time", Column: 2},
		{Value: "Min time", Column: 3},
		{Value: "Max time", Column: 4},
	},
}

func streamOutput(copyRate, scaleRate, addRate, triadRate float64) []byte {
	format := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return []byte(fmt.Sprintf(`-------------------------------------------------------------
STREAM version $Revision: 5.10 $
-------------------------------------------------------------
Number of Threads requested = 1
Number of Threads counted = 1
-------------------------------------------------------------
Function    Best Rate MB/s  Avg time     Min time     Max time
Copy:           %s     0.013044     0.012963     0.013162
Scale:          %s     0.014499     0.014406     0.014610
Add:            %s     0.018019     0.018003     0.018034
Triad:          %s     0.019465     0.019441     0.019504
-------------------------------------------------------------
Solution Validates: avg error less than 1.000000e-13 on all three arrays
-------------------------------------------------------------
`, format(copyRate), format(scaleRate), format(addRate), format(triadRate)))
}

func TestScrapeTable(t *testing.T) {
	record, err := ScrapeTable(streamOutput(21000.1, 15000.2, 16000.3, 12345.6), streamSpec)
	require.NoError(t, err)

	assert.Equal(t, 12345.6, record["Triad"]["Best Rate MB/s"])
	assert.Equal(t, 21000.1, record["Copy"]["Best Rate MB/s"])
	assert.Equal(t, 0.019465, record["Triad"]["Avg time"])
	assert.Equal(t, 0.019441, record["Triad"]["Min time"])
	assert.Equal(t, 0.019504, record["Triad"]["Max time"])
	assert.Len(t, record, 4)
}

func TestScrapeTableMissingMarker(t *testing.T) {
	out := []byte("Copy: 1.0 2.0 3.0 4.0\nsomething went wrong\n")

	record, err := ScrapeTable(out, streamSpec)
	assert.Nil(t, record)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, out, perr.Raw)
}

func TestScrapeTableShortRow(t *testing.T) {
	spec := TableSpec{
		Rows:    []RowRule{{Metric: "Triad", LineOffset: 0}},
		Columns: []ColumnRule{{Value: "rate", Column: 5}},
	}

	record, err := ScrapeTable([]byte("Triad: 1.0\nextra\n"), spec)
	assert.Nil(t, record)

	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestScrapeTableNonNumericColumn(t *testing.T) {
	spec := TableSpec{
		Rows:    []RowRule{{Metric: "Triad", LineOffset: 0}},
		Columns: []ColumnRule{{Value: "rate", Column: 1}},
	}

	_, err := ScrapeTable([]byte("Triad: abc\nextra\n"), spec)

	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestScrapeTableUnitConversion(t *testing.T) {
	spec := TableSpec{
		Rows:    []RowRule{{Metric: "mem", LineOffset: 0}},
		Columns: []ColumnRule{{Value: "KB", Column: 1, Scale: 1024}},
	}

	record, err := ScrapeTable([]byte("mem: 2048\nextra\n"), spec)
	require.NoError(t, err)
	assert.Equal(t, 2.0, record["mem"]["KB"])
}

func TestScrapeTableEmptyOutput(t *testing.T) {
	_, err := ScrapeTable([]byte(""), streamSpec)

	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestScrapeTablePure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	genRate := gen.Float64Range(0.001, 1e9)

	properties.Property("identical input always yields an identical record", prop.ForAll(
		func(copyRate, scaleRate, addRate, triadRate float64) bool {
			out := streamOutput(copyRate, scaleRate, addRate, triadRate)

			first, err1 := ScrapeTable(out, streamSpec)
			second, err2 := ScrapeTable(out, streamSpec)
			if err1 != nil || err2 != nil {
				return false
			}
			return assert.ObjectsAreEqual(first, second) &&
				first["Triad"]["Best Rate MB/s"] == triadRate
		},
		genRate, genRate, genRate, genRate,
	))

	properties.TestingRun(t)
}

func TestParseErrorNeverPartial(t *testing.T) {
	// Any scrape failure must return a nil record, never a partial one.
	spec := TableSpec{
		Rows: []RowRule{
			{Metric: "good", LineOffset: 0},
			{Metric: "bad", LineOffset: 1},
		},
		Columns: []ColumnRule{{Value: "v", Column: 1}},
	}

	record, err := ScrapeTable([]byte("good: 1.0\nbad: xyz\nextra\n"), spec)
	assert.Nil(t, record)
	assert.Error(t, err)
}
