package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/stratctx/internal/sessionctx"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions on the running server",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionType, _ := cmd.Flags().GetString("type")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var body map[string]string
		if sessionType != "" {
			body = map[string]string{"session_type": sessionType}
		}
		var resp map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, "/sessions", body, &resp); err != nil {
			return err
		}
		if ok, err := emit(resp); ok {
			return err
		}
		printSuccess("Started session %s (%s)", resp["session_id"], resp["session_type"])
		return nil
	},
}

// sessionActionCmd posts to /sessions/{id}/<action>.
func sessionActionCmd(action, short, done string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var resp map[string]any
			path := "/sessions/" + url.PathEscape(args[0]) + "/" + action
			if err := client.call(cmd.Context(), http.MethodPost, path, nil, &resp); err != nil {
				return err
			}
			if ok, err := emit(resp); ok {
				return err
			}
			printSuccess("%s session %s (quality %.2f)", done, args[0], resp["context_quality_score"])
			return nil
		},
	}
}

var sessionRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List sessions started recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var sessions []sessionctx.SessionSummary
		if err := client.call(cmd.Context(), http.MethodGet, "/sessions/recent?hours="+strconv.Itoa(hours), nil, &sessions); err != nil {
			return err
		}
		if ok, err := emit(sessions); ok {
			return err
		}
		if len(sessions) == 0 {
			fmt.Fprintf(stdout, "No sessions in the last %d hours.\n", hours)
			return nil
		}
		for _, s := range sessions {
			state := "open"
			if s.EndedAt != nil {
				state = "ended " + s.EndedAt.Local().Format(time.Kitchen)
			}
			fmt.Fprintf(stdout, "%s  %-22s quality %.2f  %s\n",
				styled(labelStyle, s.SessionID), s.SessionType, s.QualityScore,
				styled(dimStyle, s.StartedAt.Local().Format("2006-01-02 15:04")+", "+state))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's stored context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			SessionID    string             `json:"session_id"`
			QualityScore float64            `json:"context_quality_score"`
			Context      sessionctx.Context `json:"context"`
		}
		if err := client.call(cmd.Context(), http.MethodGet, "/sessions/"+url.PathEscape(args[0]), nil, &resp); err != nil {
			return err
		}
		if ok, err := emit(resp); ok {
			return err
		}
		c := resp.Context
		printStatus("Session", "%s", resp.SessionID)
		printStatus("Quality", "%.2f", resp.QualityScore)
		printStatus("Personas", "%v", c.ActivePersonas)
		printStatus("Stakeholders", "%d entries", len(c.Stakeholder))
		printStatus("Initiatives", "%d entries", len(c.Initiatives))
		printStatus("Executive", "%d entries", len(c.Executive))
		printStatus("ROI", "%d entries", len(c.ROIDiscussions))
		printStatus("Coalition", "%d entries", len(c.CoalitionMapping))
		printStatus("Thread", "%d turns", len(c.ConversationThread))
		return nil
	},
}

var sessionGapsCmd = &cobra.Command{
	Use:   "gaps <session-id>",
	Short: "List context gaps recorded for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var gaps []sessionctx.Gap
		if err := client.call(cmd.Context(), http.MethodGet, "/sessions/"+url.PathEscape(args[0])+"/gaps", nil, &gaps); err != nil {
			return err
		}
		if ok, err := emit(gaps); ok {
			return err
		}
		if len(gaps) == 0 {
			fmt.Fprintln(stdout, "No gaps recorded.")
			return nil
		}
		for _, g := range gaps {
			fmt.Fprintf(stdout, "[%s] %s\n    %s\n", g.Severity, g.Description, styled(dimStyle, g.RecoveryStrategy))
		}
		return nil
	},
}

var sessionRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run restart detection and print the recovery prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var rec sessionctx.Recovery
		if err := client.call(cmd.Context(), http.MethodPost, "/recovery", nil, &rec); err != nil {
			return err
		}
		if ok, err := emit(rec); ok {
			return err
		}
		if rec.Recovered {
			printSuccess("Recovered session %s", rec.SessionID)
		}
		fmt.Fprintln(stdout, rec.Prompt)
		return nil
	},
}

func init() {
	sessionStartCmd.Flags().String("type", "", "session type (default from session.type)")
	sessionRecentCmd.Flags().Int("hours", 24, "look-back window in hours")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionActionCmd("backup", "Back up a session's context now", "Backed up"))
	sessionCmd.AddCommand(sessionActionCmd("end", "Mark a session as ended", "Ended"))
	sessionCmd.AddCommand(sessionRecentCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionGapsCmd)
	sessionCmd.AddCommand(sessionRecoverCmd)
}
