// insightctl is a small operator CLI for the insight orchestrator. It drives
// the HTTP surface directly, which keeps it honest: anything the CLI can do,
// any client can do.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	timePeriod string
	httpClient = &http.Client{Timeout: 2 * time.Minute}
)

var rootCmd = &cobra.Command{
	Use:   "insightctl",
	Short: "Insight orchestrator CLI",
	Long: `insightctl drives the insight orchestrator's HTTP API.

Example usage:
  insightctl activate client-42
  insightctl generate client-42 sessions --data '{"clientValue":120,"industryAvg":100}'
  insightctl snapshot client-42 sessions --period 2025-07
  insightctl watch client-42 sessions
  insightctl delete client-42 sessions --period "Last Month"`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("INSIGHT_SERVER_URL", "http://localhost:9020"), "orchestrator base URL")
	rootCmd.PersistentFlags().StringVar(&timePeriod, "period", "Last Month", "time period label or YYYY-MM")

	rootCmd.AddCommand(activateCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(regenerateCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(watchCmd)
}

var activateCmd = &cobra.Command{
	Use:   "activate <clientId>",
	Short: "Switch the active client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postJSON(fmt.Sprintf("%s/v1/clients/%s/activate", serverURL, url.PathEscape(args[0])), nil)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate <clientId> <metric>",
	Short: "Generate a fresh insight for a metric",
	Args:  cobra.ExactArgs(2),
	RunE:  func(cmd *cobra.Command, args []string) error { return runGenerate(cmd, args, "generate") },
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate <clientId> <metric>",
	Short: "Regenerate an insight, optionally with user context",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userContext, _ := cmd.Flags().GetString("context")
		if userContext != "" {
			return runGenerate(cmd, args, "regenerate-with-context")
		}
		return runGenerate(cmd, args, "regenerate")
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, regenerateCmd} {
		c.Flags().String("data", "{}", "metric comparison values as JSON")
	}
	regenerateCmd.Flags().String("context", "", "user context to ground the narrative on")
}

func runGenerate(cmd *cobra.Command, args []string, action string) error {
	rawData, _ := cmd.Flags().GetString("data")
	var metricData json.RawMessage
	if err := json.Unmarshal([]byte(rawData), &metricData); err != nil {
		return fmt.Errorf("invalid --data JSON: %w", err)
	}

	body := map[string]any{
		"timePeriod": timePeriod,
		"metricData": metricData,
	}
	if userContext, _ := cmd.Flags().GetString("context"); userContext != "" {
		body["userContext"] = userContext
	}

	return postJSON(insightURL(args[0], args[1], action), body)
}

var deleteCmd = &cobra.Command{
	Use:   "delete <clientId> <metric>",
	Short: "Delete the insight for a metric",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodDelete, insightURL(args[0], args[1], "")+"?period="+url.QueryEscape(timePeriod), nil)
		if err != nil {
			return err
		}
		return doPrint(req)
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <clientId> <metric>",
	Short: "Print the current lifecycle snapshot",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodGet, insightURL(args[0], args[1], "snapshot")+"?period="+url.QueryEscape(timePeriod), nil)
		if err != nil {
			return err
		}
		return doPrint(req)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <clientId> <metric>",
	Short: "Stream the typewriter reveal to the terminal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := httpClient.Get(insightURL(args[0], args[1], "reveal") + "?period=" + url.QueryEscape(timePeriod))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %s", resp.Status)
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var snap struct {
				Phase    string   `json:"phase"`
				Sections []string `json:"sections"`
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap); err != nil {
				continue
			}
			// Redraw in place so the text appears to be typed.
			fmt.Print("\033[2J\033[H")
			fmt.Println(strings.Join(snap.Sections, "\n\n"))
			if snap.Phase != "revealing" {
				break
			}
		}
		return scanner.Err()
	},
}

func insightURL(clientID, metric, action string) string {
	base := fmt.Sprintf("%s/v1/insights/%s/%s", serverURL, url.PathEscape(clientID), url.PathEscape(metric))
	if action == "" {
		return base
	}
	return base + "/" + action
}

func postJSON(target string, body any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return doPrint(req)
}

func doPrint(req *http.Request) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
