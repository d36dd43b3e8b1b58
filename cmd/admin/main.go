package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
)

const (
	defaultAPI = "http://localhost:8080"
)

type statsResponse struct {
	Entries    int   `json:"entries"`
	Starred    int   `json:"starred"`
	TotalSize  int64 `json:"totalSize"`
	MaxStorage int64 `json:"maxStorage"`
	MaxEntries int   `json:"maxEntries"`
}

type entryResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Starred   bool   `json:"starred"`
	TextSize  int64  `json:"textSize"`
	Sender    string `json:"sender"`
	Subject   string `json:"subject"`
	Images    []struct {
		Size int64 `json:"size"`
	} `json:"images"`
}

func main() {
	api := flag.String("api", envDefault("MAILKEEP_API", defaultAPI), "Base URL of the mailkeep REST API")
	entries := flag.Bool("entries", false, "List archive entries instead of stats")
	query := flag.String("q", "", "Substring filter on sender/subject (with -entries)")
	star := flag.String("star", "", "Star the entry with this id")
	unstar := flag.String("unstar", "", "Unstar the entry with this id")
	sweep := flag.Bool("sweep", false, "Force a retention sweep before reporting")
	dumpJSON := flag.Bool("json", false, "Output JSON instead of table")
	flag.Parse()

	base := strings.TrimRight(*api, "/")

	if *star != "" {
		setStar(base, *star, true)
	}
	if *unstar != "" {
		setStar(base, *unstar, false)
	}

	if *sweep {
		resp, err := http.Post(base+"/api/v1/sweep", "application/json", nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
			os.Exit(1)
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			fmt.Fprintf(os.Stderr, "sweep failed: %s\n", resp.Status)
			os.Exit(1)
		}
	}

	if *entries {
		listEntries(base, *query, *dumpJSON)
		return
	}
	showStats(base, *dumpJSON)
}

func setStar(base, id string, starred bool) {
	action := "star"
	if !starred {
		action = "unstar"
	}
	resp, err := http.Post(base+"/api/v1/entries/"+url.PathEscape(id)+"/"+action, "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", action, err)
		os.Exit(1)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "%s failed: %s\n", action, resp.Status)
		os.Exit(1)
	}
}

func showStats(base string, dumpJSON bool) {
	var stats statsResponse
	fetch(base+"/api/v1/stats", &stats)

	if dumpJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(stats)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Entries\tStarred\tUsed\tQuota\tCap\n")
	fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n",
		stats.Entries, stats.Starred, stats.TotalSize, stats.MaxStorage, stats.MaxEntries)
	_ = tw.Flush()
}

func listEntries(base, query string, dumpJSON bool) {
	endpoint := base + "/api/v1/entries"
	if query != "" {
		endpoint += "?" + url.Values{"q": {query}}.Encode()
	}

	var entries []entryResponse
	fetch(endpoint, &entries)

	if dumpJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(entries)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tStarred\tText\tImages\tSender\tSubject\n")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%t\t%d\t%d\t%s\t%s\n",
			e.ID, e.Starred, e.TextSize, len(e.Images), e.Sender, e.Subject)
	}
	_ = tw.Flush()
}

func fetch(endpoint string, out any) {
	resp, err := http.Get(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		fmt.Fprintf(os.Stderr, "query failed: %s\n", resp.Status)
		os.Exit(1)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
