package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/term"

	apiclient "github.com/splax/apitrail/pkg/api/client"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "incidents":
		err = commandIncidents(args)
	case "resolve":
		err = commandResolve(args)
	case "alerts":
		err = commandAlerts(args)
	case "stats":
		err = commandStats(args)
	case "analytics":
		err = commandAnalytics(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("username", "", "Username")
	password := fs.String("password", "", "Password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+apiclient.DefaultBaseURL+")")
	fs.Parse(args)

	if strings.TrimSpace(*username) == "" {
		return errors.New("--username is required")
	}

	secret := *password
	if strings.TrimSpace(secret) == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := client.Login(ctx, *username, secret)
	if err != nil {
		return err
	}
	cfg.APIBaseURL = client.BaseURL()
	cfg.AccessToken = resp.AccessToken
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in as %s\n", resp.Username)
	return nil
}

// session loads the stored token and a client for the configured collector.
func session() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'apitrail login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func commandIncidents(args []string) error {
	status := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		status = args[0]
		args = args[1:]
	}
	switch status {
	case "", "open", "resolved":
	default:
		return errors.New("usage: apitrail incidents [open|resolved]")
	}
	fs := flag.NewFlagSet("incidents", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Maximum number of incidents to display")
	fs.Parse(args)

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	incidents, err := client.ListIncidents(ctx, token, status)
	if err != nil {
		return err
	}
	count := len(incidents)
	if *limit > 0 && *limit < count {
		count = *limit
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTYPE\tSERVICE\tENDPOINT\tCREATED\tRESOLVED BY")
	for i := 0; i < count; i++ {
		inc := incidents[i]
		resolvedBy := "-"
		if inc.ResolvedBy != nil {
			resolvedBy = *inc.ResolvedBy
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inc.ID, inc.Status, inc.IncidentType, inc.ServiceName, inc.Endpoint,
			inc.CreatedAt.Format(time.RFC3339), resolvedBy)
	}
	return tw.Flush()
}

func commandResolve(args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return errors.New("usage: apitrail resolve <incident-id>")
	}
	id := strings.TrimSpace(args[0])

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.ResolveIncident(ctx, token, id); err != nil {
		return err
	}
	fmt.Printf("incident %s resolved\n", id)
	return nil
}

func commandAlerts(args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of alerts")
	fs.Parse(args)

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	alerts, err := client.RecentAlerts(ctx, token, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSEVERITY\tSERVICE\tENDPOINT\tMESSAGE")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Timestamp.Format(time.RFC3339), a.AlertType, a.Severity, a.ServiceName, a.Endpoint, a.Message)
	}
	return tw.Flush()
}

func commandStats(args []string) error {
	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	stats, err := client.Stats(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("slow api calls:        %d\n", stats.SlowAPICount)
	fmt.Printf("broken api calls:      %d\n", stats.BrokenAPICount)
	fmt.Printf("rate limit violations: %d\n", stats.RateLimitViolations)
	return nil
}

func commandAnalytics(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: apitrail analytics [avg-latency|top-slow|error-rate|timeline]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("analytics "+sub, flag.ExitOnError)
	limit := fs.Int("limit", 5, "Maximum number of endpoints (top-slow)")
	hours := fs.Int("hours", 24, "Hours of history (timeline)")
	fs.Parse(args[1:])

	client, token, err := session()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	switch sub {
	case "avg-latency":
		rows, err := client.AvgLatency(ctx, token)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ENDPOINT\tAVG MS\tCOUNT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%.1f\t%d\n", r.Endpoint, r.AvgLatency, r.Count)
		}
	case "top-slow":
		rows, err := client.TopSlow(ctx, token, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "SERVICE\tENDPOINT\tAVG MS\tMAX MS\tCOUNT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%d\t%d\n", r.ServiceName, r.Endpoint, r.AvgLatency, r.MaxLatency, r.Count)
		}
	case "error-rate":
		rate, err := client.ErrorRate(ctx, token)
		if err != nil {
			return err
		}
		fmt.Printf("%d of %d calls failed (%.2f%%)\n", rate.Errors, rate.Total, rate.ErrorRate)
		return nil
	case "timeline":
		buckets, err := client.Timeline(ctx, token, *hours)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "HOUR\tREQUESTS\tAVG MS\tERRORS")
		for _, b := range buckets {
			fmt.Fprintf(tw, "%s\t%d\t%.1f\t%d\n", b.Hour, b.Requests, b.AvgLatency, b.Errors)
		}
	default:
		return fmt.Errorf("unknown analytics command: %s", sub)
	}
	return tw.Flush()
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: apiclient.DefaultBaseURL}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = apiclient.DefaultBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "apitrail", "config.json"), nil
}

func printUsage() {
	fmt.Printf("apitrail CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	apitrail login --username alice [--password secret] [--api http://localhost:8080]
	apitrail incidents [open|resolved] [--limit N]
	apitrail resolve <incident-id>
	apitrail alerts [--limit N]
	apitrail stats
	apitrail analytics avg-latency
	apitrail analytics top-slow [--limit N]
	apitrail analytics error-rate
	apitrail analytics timeline [--hours N]
	apitrail version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
