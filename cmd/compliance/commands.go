package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/prompt-compliance/internal/failure"
	"github.com/danielpatrickdp/prompt-compliance/internal/metrics"
	"github.com/danielpatrickdp/prompt-compliance/internal/policy"
	"github.com/danielpatrickdp/prompt-compliance/internal/service"
	"github.com/danielpatrickdp/prompt-compliance/internal/verdict"
)

// #region verify
func newVerifyCmd(opts *rootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "verify [prompt...]",
		Short: "Check a prompt against the stored policies",
		Long: `Check a prompt against the stored policies and print the verdict as JSON.

  compliance verify "Write a report about market trends"
  compliance verify --file prompt.txt
  echo "..." | compliance verify --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			a, _, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.svc.Verify(cmd.Context(), prompt)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Read the prompt from a file (- for stdin)")
	return cmd
}

func readPrompt(stdin io.Reader, file string, args []string) (string, error) {
	if file != "" && len(args) > 0 {
		return "", failure.Validation("verify", "give the prompt as arguments or --file, not both")
	}
	switch file {
	case "":
		return strings.Join(args, " "), nil
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	return string(b), nil
}

// #endregion verify

// #region policy
func newPolicyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage stored policies",
	}
	cmd.AddCommand(newPolicyAddCmd(opts), newPolicyListCmd(opts), newPolicyClearCmd(opts))
	return cmd
}

func newPolicyAddCmd(opts *rootOptions) *cobra.Command {
	var text, file, name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Store a policy from --text or --file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (text == "") == (file == "") {
				return failure.Validation("add policy", "exactly one of --text or --file is required")
			}
			a, _, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var entry policy.Entry
			if file != "" {
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read policy file: %w", err)
				}
				if name == "" {
					name = filepath.Base(file)
				}
				entry, err = a.svc.AddPolicyFileContent(cmd.Context(), string(content), name)
				if err != nil {
					return err
				}
			} else {
				entry, err = a.svc.AddPolicyText(cmd.Context(), text, name)
				if err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), entry)
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "Policy statement")
	cmd.Flags().StringVar(&file, "file", "", "Read the policy statement from a text file")
	cmd.Flags().StringVar(&name, "name", "", "Policy name (default: generated, or the file name)")
	return cmd
}

func newPolicyListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored policies in insertion order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.svc.ListPolicies(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			return writeTable(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func newPolicyClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.ClearPolicies(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared")
			return nil
		},
	}
}

// #endregion policy

// #region repl
func newReplCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive verification loop",
		Long: `Read prompts line by line and print a verdict for each.

  :add <text>   store a policy
  :list         list stored policies
  :clear        remove every policy
  quit          exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, cfg, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if metricsAddr == "" {
				metricsAddr = cfg.Metrics.Addr
			}
			if metricsAddr != "" {
				stop := serveMetrics(metricsAddr, a.metrics)
				defer stop()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Compliance checker ready.")
			fmt.Fprintf(out, "  DB: %s | Embedding: %s | Reasoning: %s\n", cfg.Store.Path, cfg.Embedding.Provider, cfg.Reasoning.Provider)
			fmt.Fprintln(out, "Type a prompt (or 'quit' to exit):")
			return repl(cmd.Context(), a.svc, cmd.InOrStdin(), out)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	return cmd
}

func repl(ctx context.Context, svc *service.Service, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case strings.HasPrefix(line, ":add "):
			entry, err := svc.AddPolicyText(ctx, strings.TrimPrefix(line, ":add "), "")
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "stored %s (%s)\n", entry.Name, entry.ID)
		case line == ":list":
			entries, err := svc.ListPolicies(ctx)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			writeTable(out, entries)
		case line == ":clear":
			if err := svc.ClearPolicies(ctx); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "cleared")
		default:
			v, err := svc.Verify(ctx, line)
			if err != nil {
				fmt.Fprintf(out, "error (%s): %v\n", kindLabel(err), err)
				continue
			}
			printVerdict(out, v)
		}
	}
	return scanner.Err()
}

func kindLabel(err error) string {
	if k := failure.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// #endregion repl

// #region metrics-server
// serveMetrics exposes /metrics on addr until the returned stop func is called.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server: %v", err)
		}
	}()
	log.Printf("metrics on http://%s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

// #endregion metrics-server

// #region output
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, entries []policy.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no policies stored")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED\tTEXT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Name, e.CreatedAt.Format(time.RFC3339), truncate(e.Text, 60))
	}
	return tw.Flush()
}

func printVerdict(w io.Writer, v verdict.Verdict) {
	fmt.Fprintf(w, "%s  score=%.2f  issues=%d  policies=%d\n", v.Status, v.ComplianceScore, len(v.Issues), len(v.RelevantPolicies))
	for _, is := range v.Issues {
		fmt.Fprintf(w, "  [%.1f] %s\n        policy: %s\n", is.Severity, is.Explanation, truncate(is.PolicyText, 80))
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// #endregion output
