// Package main implements the pdcactl CLI for manual operations against the pdcad HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the pdcad HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pdcactl",
	Short: "CLI for pdcad HTTP server operations",
	Long: `pdcactl is a command-line interface for interacting with the pdcad HTTP server.
It provides commands for checking delegation jobs, recording phase transitions,
and inspecting the team directory and task board.`,
	Version: version,
}

var (
	phaseFeature  string
	phaseDoc      string
	phaseOverride bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9292", "pdcad server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(phaseCmd)
	rootCmd.AddCommand(teamCmd)
	rootCmd.AddCommand(boardCmd)

	phaseCmd.Flags().StringVar(&phaseFeature, "feature", "", "feature name (default: active feature)")
	phaseCmd.Flags().StringVar(&phaseDoc, "document", "", "phase document produced alongside the transition")
	phaseCmd.Flags().BoolVar(&phaseOverride, "override", false, "allow skipping intermediate phases")
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check pdcad server health",
	Long: `Check the health status of the pdcad HTTP server.

Examples:
  # Check health
  pdcactl health

  # Check health on a different server
  pdcactl health --server http://localhost:8080`,
	RunE: runHealth,
}

// jobCmd shows a delegation job
var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show a delegation job",
	Long: `Show the status of a delegation job, including any result text
captured so far for running jobs.

Examples:
  pdcactl job 2f1c9e8a-ab31-4c50-9f6f-0c1d2e3f4a5b`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

// phaseCmd records a manual phase transition
var phaseCmd = &cobra.Command{
	Use:   "phase <phase>",
	Short: "Record a manual phase transition",
	Long: `Record a manual phase transition for a feature. Manual transitions may
move backward; skipping phases forward requires --override.

Examples:
  # Advance the active feature to design
  pdcactl phase design

  # Advance a named feature and record its plan document
  pdcactl phase plan --feature auth-flow --document plan

  # Skip ahead
  pdcactl phase do --feature auth-flow --override`,
	Args: cobra.ExactArgs(1),
	RunE: runPhase,
}

// teamCmd lists teammates
var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "List teammates and their status",
	RunE:  runTeam,
}

// boardCmd lists task board items
var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "List task board items",
	RunE:  runBoard,
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// PhaseUpdateRequest matches internal/http/server.go PhaseUpdateRequest
type PhaseUpdateRequest struct {
	Feature  string `json:"feature,omitempty"`
	Phase    string `json:"phase"`
	Document string `json:"document,omitempty"`
	Override bool   `json:"override,omitempty"`
}

// PhaseUpdateResponse matches internal/http/server.go PhaseUpdateResponse
type PhaseUpdateResponse struct {
	Feature string `json:"feature"`
	Phase   string `json:"phase"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(endpoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect to %s: %v\n", endpoint, err)
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// runJob handles the job command
func runJob(cmd *cobra.Command, args []string) error {
	endpoint := fmt.Sprintf("%s/api/v1/jobs/%s", serverURL, url.PathEscape(args[0]))
	return getAndPrint(endpoint)
}

// runPhase handles the phase command
func runPhase(cmd *cobra.Command, args []string) error {
	reqBody := PhaseUpdateRequest{
		Feature:  phaseFeature,
		Phase:    args[0],
		Document: phaseDoc,
		Override: phaseOverride,
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/phase", serverURL)
	httpReq, err := http.NewRequest("POST", endpoint, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	var phaseResp PhaseUpdateResponse
	if err := json.NewDecoder(resp.Body).Decode(&phaseResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Feature %s is now in phase %s\n", phaseResp.Feature, phaseResp.Phase)
	return nil
}

// runTeam handles the team command
func runTeam(cmd *cobra.Command, args []string) error {
	return getAndPrint(fmt.Sprintf("%s/api/v1/team", serverURL))
}

// runBoard handles the board command
func runBoard(cmd *cobra.Command, args []string) error {
	return getAndPrint(fmt.Sprintf("%s/api/v1/board", serverURL))
}

// getAndPrint fetches a JSON endpoint and pretty-prints the body.
func getAndPrint(endpoint string) error {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		// Not JSON, print as is.
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// checkStatus returns an error describing a non-OK response.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
}
