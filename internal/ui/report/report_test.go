package report

import (
	"bytes"
	"fmt"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func testReport(candidateLosses []float64) *Report {
	return &Report{
		Reference: Run{Name: "reference", Backend: "go", Policy: "amp:off", Losses: []float64{0.5, 0.25},
			Accuracy: 0.5, Elapsed: time.Second},
		Candidate: Run{Name: "accelerator", Backend: "xla:cpu", Policy: "amp:bfloat16",
			Losses: candidateLosses, Accuracy: -1},
		Tolerance: 0.01,
	}
}

func TestRender(t *testing.T) {
	r := testReport([]float64{0.501, 0.2501})
	require.NoError(t, r.Verify())
	out := r.Render()
	fmt.Println(out)
	for _, want := range []string{"reference", "accelerator", "xla:cpu", "amp:bfloat16", "accuracy 50.0%",
		"0.5000", "0.2501", "PASS"} {
		require.Contains(t, out, want)
	}
	require.NotContains(t, out, "accelerator: backend=xla:cpu, amp:bfloat16, elapsed 0s, accuracy")

	r = testReport([]float64{0.6})
	require.Error(t, r.Verify())
	out = r.Render()
	require.Contains(t, out, "FAIL")
	require.Contains(t, out, "-")
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	testReport([]float64{0.5, 0.25}).Print(&buf)
	require.True(t, strings.HasSuffix(buf.String(), "\n"))
	require.Contains(t, buf.String(), "PASS")
}

func TestCenter(t *testing.T) {
	require.Equal(t, "ab\ncd", center("ab\ncd", 0))
	require.Equal(t, "   ab\n\n   cd", center("ab\n\ncd", 8))
	require.Equal(t, 3, displayWidth("\x1b[1mabc\x1b[0m"))
}
