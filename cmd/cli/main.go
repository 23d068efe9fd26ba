package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	apiKey    string
	timeout   string
	language  string
	sessionID string
	priority  int
)

func main() {
	root := &cobra.Command{
		Use:   "sandbox-cli",
		Short: "CLI client for polyglot-sandbox",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("SANDBOX_API_KEY"), "API key")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute code in the sandbox (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&timeout, "timeout", "10s", "Execution timeout")
	execCmd.Flags().StringVarP(&language, "language", "l", "json", "Language (html, css, javascript, typescript, lua, sql, json, yaml, markdown, regex)")
	execCmd.Flags().StringVar(&sessionID, "session", "", "Session ID for stateful engines (lua, sql)")
	execCmd.Flags().IntVar(&priority, "priority", 0, "Queue priority (higher runs first)")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVar(&timeout, "timeout", "10s", "Execution timeout")
	execFileCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	execFileCmd.Flags().StringVar(&sessionID, "session", "", "Session ID for stateful engines (lua, sql)")
	execFileCmd.Flags().IntVar(&priority, "priority", 0, "Queue priority (higher runs first)")
	root.AddCommand(execFileCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze [code]",
		Short: "Run threat analysis without executing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runAnalyze,
	}
	analyzeCmd.Flags().StringVarP(&language, "language", "l", "javascript", "Language to analyze as")
	root.AddCommand(analyzeCmd)

	validateCmd := &cobra.Command{
		Use:   "validate [code]",
		Short: "Check syntax without executing",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVarP(&language, "language", "l", "json", "Language to validate as")
	root.AddCommand(validateCmd)

	cancelCmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel a queued or running execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return doRequest(http.MethodDelete, "/executions/"+args[0], nil)
		},
	}
	root.AddCommand(cancelCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRequest(http.MethodGet, "/health", nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List live executions",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRequest(http.MethodGet, "/executions", nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "queue",
		Short: "Show admission queue and memory usage",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRequest(http.MethodGet, "/queue", nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show execution outcome statistics",
		RunE: func(_ *cobra.Command, _ []string) error {
			return doRequest(http.MethodGet, "/stats", nil)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func codeFromArgs(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}

func runExec(_ *cobra.Command, args []string) error {
	code, err := codeFromArgs(args)
	if err != nil {
		return err
	}
	return executeCode(code, language)
}

func runExecFile(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	if language == "" {
		switch ext := fileExtension(args[0]); ext {
		case ".html", ".htm":
			language = "html"
		case ".css":
			language = "css"
		case ".js":
			language = "javascript"
		case ".ts":
			language = "typescript"
		case ".lua":
			language = "lua"
		case ".sql":
			language = "sql"
		case ".json":
			language = "json"
		case ".yaml", ".yml":
			language = "yaml"
		case ".md", ".markdown":
			language = "markdown"
		default:
			return fmt.Errorf("cannot detect language for extension %q, use --language flag", ext)
		}
	}

	return executeCode(string(data), language)
}

func executeCode(code, lang string) error {
	payload := map[string]any{
		"code":       code,
		"language":   lang,
		"session_id": sessionID,
		"priority":   priority,
		"options": map[string]any{
			"timeout": timeout,
		},
	}

	result, err := postJSON("/execute", payload)
	if err != nil {
		return err
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if success, ok := result["success"].(bool); ok && !success {
		os.Exit(1)
	}
	return nil
}

func runAnalyze(_ *cobra.Command, args []string) error {
	code, err := codeFromArgs(args)
	if err != nil {
		return err
	}

	result, err := postJSON("/analyze", map[string]any{"code": code, "language": language})
	if err != nil {
		return err
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if malicious, ok := result["is_malicious"].(bool); ok && malicious {
		os.Exit(1)
	}
	return nil
}

func runValidate(_ *cobra.Command, args []string) error {
	code, err := codeFromArgs(args)
	if err != nil {
		return err
	}

	result, err := postJSON("/validate", map[string]any{"code": code, "language": language})
	if err != nil {
		return err
	}

	if valid, ok := result["valid"].(bool); ok && valid {
		fmt.Println("valid")
		return nil
	}
	fmt.Println("invalid")
	os.Exit(1)
	return nil
}

func postJSON(path string, payload map[string]any) (map[string]any, error) {
	body, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 70 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

func doRequest(method, path string, body io.Reader) error {
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func fileExtension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}
