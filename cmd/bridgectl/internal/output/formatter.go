// Package output renders bridgectl results as tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/demo"
)

// TopicsTable displays topics in a formatted table
func TopicsTable(w io.Writer, topics []bridge.TopicInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "NAME\tTYPE")
	fmt.Fprintln(tw, "----\t----")

	if len(topics) == 0 {
		fmt.Fprintln(tw, "No topics found")
		return
	}
	for _, t := range topics {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.TypeName)
	}
}

// TopicsJSON displays topics in JSON format
func TopicsJSON(w io.Writer, topics []bridge.TopicInfo) error {
	if topics == nil {
		topics = []bridge.TopicInfo{}
	}
	out := struct {
		Topics []bridge.TopicInfo `json:"topics"`
		Count  int                `json:"count"`
	}{
		Topics: topics,
		Count:  len(topics),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ReportTable prints latency figures in microseconds.
func ReportTable(w io.Writer, r demo.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	defer tw.Flush()

	fmt.Fprintln(tw, "#\tCount\tmedian\tmin\t99%\tmax\tmean\t")
	row := func(name string, s demo.Stats) {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			name, s.Count, us(s.Median), us(s.Min), us(s.P99), us(s.Max), us(s.Mean))
	}
	row("Latency [us]", r.Latency)
	row("Write access [us]", r.WriteAccess)
	if r.Lost > 0 {
		fmt.Fprintf(tw, "Lost\t%d\t\t\t\t\t\t\n", r.Lost)
	}
}

// ReportJSON prints the report with durations in microseconds.
func ReportJSON(w io.Writer, r demo.Report) error {
	type stats struct {
		Count  int   `json:"count"`
		Min    int64 `json:"min_us"`
		Median int64 `json:"median_us"`
		P99    int64 `json:"p99_us"`
		Max    int64 `json:"max_us"`
		Mean   int64 `json:"mean_us"`
	}
	conv := func(s demo.Stats) stats {
		return stats{s.Count, us(s.Min), us(s.Median), us(s.P99), us(s.Max), us(s.Mean)}
	}
	out := struct {
		Latency     stats `json:"latency"`
		WriteAccess stats `json:"write_access"`
		Lost        int   `json:"lost"`
	}{conv(r.Latency), conv(r.WriteAccess), r.Lost}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func us(d time.Duration) int64 {
	return d.Microseconds()
}
