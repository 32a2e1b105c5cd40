package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"agentlink/internal/domain"
	"agentlink/internal/usecase"
	"agentlink/internal/usecase/coordination"
	"agentlink/internal/usecase/multiagent"
)

// withApp opens a session, wires the app and runs fn. The audit sinks are
// closed when fn returns.
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	sess, err := openSession(ctx, opts)
	if err != nil {
		return err
	}
	defer sess.Close(context.Background())

	a, cleanup, err := buildApp(sess.cfg, sess.log)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = cleanup(shutdownCtx)
	}()
	return fn(ctx, a)
}

func newAgentsCmd(opts *rootOptions) *cobra.Command {
	var noRefresh bool
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List known agents",
		Long:  "Refresh the registry from the configured directories and print every\nknown agent with its source and endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if !noRefresh {
					if _, err := a.registry.Refresh(ctx); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: refresh failed: %v\n", err)
					}
				}
				printAgents(cmd.OutOrStdout(), a.registry.List())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "list manual and static agents only")
	return cmd
}

func printAgents(w io.Writer, agents []domain.AgentRecord) {
	if len(agents) == 0 {
		fmt.Fprintln(w, "No agents known.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tENDPOINT\tDESCRIPTION")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Source, a.Endpoint, oneLine(a.Description, 60))
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d agent(s)\n", len(agents))
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// extraMentionsNote warns when text names more than one agent; only the
// first mention is routed.
func extraMentionsNote(text string) string {
	mentions := multiagent.Mentions(text)
	if len(mentions) < 2 {
		return ""
	}
	return fmt.Sprintf("note: routing to @%s only; ignoring @%s", mentions[0], strings.Join(mentions[1:], ", @"))
}

func newRouteCmd(opts *rootOptions) *cobra.Command {
	var (
		general bool
		refresh bool
		conv    string
	)
	cmd := &cobra.Command{
		Use:   "route <message>",
		Short: "Route one message",
		Long: "Route a message the way the gateway would. A leading @agent-id forwards\n" +
			"it to that agent; with --general unmentioned messages go to the local agent.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if refresh {
					if _, err := a.registry.Refresh(ctx); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: refresh failed: %v\n", err)
					}
				}
				text := strings.Join(args, " ")
				if note := extraMentionsNote(text); note != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), note)
				}
				endpoint := usecase.EndpointStrict
				if general {
					endpoint = usecase.EndpointGeneral
				}
				res, err := a.router.Route(ctx, usecase.RouteRequest{
					Message:  domain.NewTextMessage(domain.RoleUser, text, conv),
					Endpoint: endpoint,
				})
				if err != nil {
					return fmt.Errorf("route: %s: %w", domain.ErrorCodeOf(err), err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&general, "general", false, "answer unmentioned messages with the local agent")
	cmd.Flags().BoolVar(&refresh, "refresh", true, "refresh the registry before routing")
	cmd.Flags().StringVar(&conv, "conversation", "", "conversation id")
	return cmd
}

func newCoordinateCmd(opts *rootOptions) *cobra.Command {
	var (
		task         string
		participants []string
		rounds       int
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "coordinate <debate|consensus|hierarchical>",
		Short: "Run a coordination protocol",
		Long: "Run a debate, consensus or hierarchical protocol over the given\n" +
			"participants. Participants are id:role pairs; the id \"local\" is the\n" +
			"local agent.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]domain.AgentRef, 0, len(participants))
			for _, p := range participants {
				refs = append(refs, domain.ParseAgentRef(p))
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app) error {
				if _, err := a.registry.Refresh(ctx); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: refresh failed: %v\n", err)
				}
				if rounds == 0 {
					rounds = a.cfg.Coordination.DefaultRounds
				}
				run, err := a.engine.Run(ctx, coordination.Request{
					Protocol:     domain.Protocol(strings.ToLower(args[0])),
					Task:         task,
					Participants: refs,
					Options:      coordination.Options{Rounds: rounds},
				})
				if run != nil {
					if asJSON {
						enc := json.NewEncoder(cmd.OutOrStdout())
						enc.SetIndent("", "  ")
						if encErr := enc.Encode(run); encErr != nil {
							return encErr
						}
					} else {
						printRun(cmd.OutOrStdout(), run)
					}
				}
				if err != nil {
					return fmt.Errorf("coordinate: %s: %w", domain.ErrorCodeOf(err), err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task given to the participants")
	cmd.Flags().StringArrayVarP(&participants, "participant", "p", nil, "participant as id:role (repeatable)")
	cmd.Flags().IntVar(&rounds, "rounds", 0, "debate rebuttal rounds (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func printRun(w io.Writer, run *domain.ProtocolRun) {
	fmt.Fprintf(w, "%s run %s\n", run.Protocol, run.ID)
	for _, s := range run.Steps {
		status := "ok"
		if s.Failed() {
			status = "error: " + s.Err.Error()
		}
		fmt.Fprintf(w, "  [%d] %s (%s) %s\n", s.Index, s.Name, s.Participant, status)
	}
	if run.Consensus != nil {
		fmt.Fprintf(w, "consensus: %s\n", run.Consensus.Tag)
	}
	if run.FinalOutput != "" {
		fmt.Fprintf(w, "\n%s\n", run.FinalOutput)
	}
}
