package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var (
	address    = flag.String("addr", "http://localhost:8080", "Server base URL")
	timeout    = flag.Duration("timeout", 10*time.Second, "Request timeout")
	jsonOutput = flag.Bool("json", false, "Output raw JSON")
	userAgent  = flag.String("ua", "guardctl/1.0", "User-agent for admission probes")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &http.Client{Timeout: *timeout}

	command := args[0]
	switch command {
	case "clients":
		handleGet(ctx, client, "/api/v1/clients")
	case "client":
		requireArg(args, 1, "client <id>")
		handleGet(ctx, client, "/api/v1/clients/"+args[1])
	case "blocks":
		handleGet(ctx, client, "/api/v1/blocks")
	case "unblock":
		requireArg(args, 1, "unblock <id>")
		handleDelete(ctx, client, "/api/v1/blocks/"+args[1])
	case "whitelist":
		handleGet(ctx, client, "/api/v1/whitelist")
	case "demote":
		requireArg(args, 1, "demote <id>")
		handleDelete(ctx, client, "/api/v1/whitelist/"+args[1])
	case "stats":
		handleGet(ctx, client, "/api/v1/stats?details=true")
	case "health":
		handleGet(ctx, client, "/api/v1/health")
	case "metrics":
		handleGet(ctx, client, "/api/v1/metrics")
	case "probe":
		handleProbe(ctx, client, args[1:])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func requireArg(args []string, n int, usage string) {
	if len(args) <= n {
		fmt.Printf("Usage: %s\n", usage)
		os.Exit(1)
	}
}

func handleGet(ctx context.Context, client *http.Client, path string) {
	doRequest(ctx, client, http.MethodGet, path, nil)
}

func handleDelete(ctx context.Context, client *http.Client, path string) {
	doRequest(ctx, client, http.MethodDelete, path, nil)
}

// handleProbe sends one request through the admission pipeline and reports
// the verdict, including the Retry-After header on a denial.
func handleProbe(ctx context.Context, client *http.Client, args []string) {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *address+path, nil)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("User-Agent", *userAgent)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if *jsonOutput {
		fmt.Println(string(body))
		return
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		fmt.Printf("DENIED (429), Retry-After: %s\n%s\n", resp.Header.Get("Retry-After"), prettyJSON(body))
		os.Exit(2)
	}
	fmt.Printf("ADMITTED (%d)\n%s\n", resp.StatusCode, prettyJSON(body))
}

func doRequest(ctx context.Context, client *http.Client, method, path string, body io.Reader) {
	req, err := http.NewRequestWithContext(ctx, method, *address+path, body)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("User-Agent", *userAgent)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("Error reading response: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		fmt.Println(string(data))
	} else {
		fmt.Println(prettyJSON(data))
	}

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func prettyJSON(data []byte) string {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(pretty)
}

func printUsage() {
	fmt.Printf(`guardctl - admission guard admin CLI

Usage:
  %s [flags] <command> [args]

Commands:
  clients            List tracked client records
  client <id>        Show one client record
  blocks             List active blocks
  unblock <id>       Remove a block
  whitelist          List dynamic whitelist entries
  demote <id>        Remove a whitelist entry (operator demotion)
  stats              Show store statistics
  health             Show health report
  metrics            Dump metrics registry
  probe [path]       Send one request through the admission pipeline

Flags:
  -addr string       Server base URL (default "http://localhost:8080")
  -timeout duration  Request timeout (default 10s)
  -ua string         User-agent for probes
  -json              Output raw JSON
`, os.Args[0])
}
