package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/agent"
	"github.com/sarpel/BedtimeStoryTeller/internal/bus"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/protocol"
	"github.com/spf13/cobra"
)

var (
	tellWait       bool
	tellLanguage   string
	tellAgeRating  string
	tellParagraphs int
	historyLimit   int
	watchReplay    bool
)

var tellCmd = &cobra.Command{
	Use:   "tell [prompt...]",
	Short: "Start a story",
	Example: `storyctl tell "a sleepy owl who cannot find the moon"
storyctl tell --lang en --wait a brave little turtle`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := protocol.TellRequest{
			Prompt:        strings.Join(args, " "),
			Language:      tellLanguage,
			AgeRating:     tellAgeRating,
			MaxParagraphs: tellParagraphs,
			Wait:          tellWait,
		}
		wait := timeout
		if tellWait {
			// Stories run for minutes; the caller interrupts with Ctrl-C.
			wait = 0
		}
		return request(cmd.Context(), protocol.SubjectTell, req, wait)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the current story",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return request(cmd.Context(), protocol.SubjectStop, nil, timeout)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the storyteller state and statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return request(cmd.Context(), protocol.SubjectStatus, nil, timeout)
	},
}

var listenCmd = &cobra.Command{
	Use:       "listen on|off",
	Short:     "Start or stop wake word detection",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := parseToggle(args[0])
		if err != nil {
			return err
		}
		return request(cmd.Context(), protocol.SubjectListen, protocol.ListenRequest{Enabled: enabled}, timeout)
	},
}

var engineCmd = &cobra.Command{
	Use:   "engine [name]",
	Short: "Show or switch the wake word engine",
	Long:  "Without a name the resident engine is shown. Switching stops detection; run `storyctl listen on` afterwards.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var req protocol.EngineRequest
		if len(args) == 1 {
			req.Name = args[0]
		}
		return request(cmd.Context(), protocol.SubjectEngine, req, timeout)
	},
}

var wakeCmd = &cobra.Command{
	Use:   "wake <keyword>",
	Short: "Simulate a wake word on engines that support it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return request(cmd.Context(), protocol.SubjectWake, protocol.WakeRequest{Keyword: args[0]}, timeout)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent stories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return request(cmd.Context(), protocol.SubjectHistory, protocol.HistoryRequest{Limit: historyLimit}, timeout)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream storyteller events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return watch(cmd.Context(), watchReplay)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect storyteller configuration",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.Load(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config ok")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	tellCmd.Flags().BoolVarP(&tellWait, "wait", "w", false, "wait until the story ends")
	tellCmd.Flags().StringVarP(&tellLanguage, "lang", "l", "", "story language (tr or en)")
	tellCmd.Flags().StringVar(&tellAgeRating, "age", "", "age rating, e.g. 5+")
	tellCmd.Flags().IntVarP(&tellParagraphs, "paragraphs", "p", 0, "maximum paragraphs")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of stories")
	watchCmd.Flags().BoolVar(&watchReplay, "replay", false, "replay retained events first")
	configCmd.AddCommand(configValidateCmd)
}

func parseToggle(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", arg)
}

// request sends a control command and prints the reply data. A zero wait
// blocks until ctx is done.
func request(ctx context.Context, subject string, req any, wait time.Duration) error {
	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	reply, err := call(ctx, client, subject, req, wait)
	if err != nil {
		return err
	}
	return printReply(os.Stdout, reply)
}

func call(ctx context.Context, client *bus.Client, subject string, req any, wait time.Duration) (protocol.Reply, error) {
	reply, err := client.Call(ctx, subject, req, wait)
	if err != nil {
		return protocol.Reply{}, err
	}
	if !reply.OK {
		if reply.Kind == string(agent.KindBusy) {
			return reply, fmt.Errorf("storyteller is busy: %s", reply.Error)
		}
		return reply, fmt.Errorf("%s (%s)", reply.Error, reply.Kind)
	}
	return reply, nil
}

func printReply(w io.Writer, reply protocol.Reply) error {
	if len(reply.Data) == 0 {
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
	var v any
	if err := json.Unmarshal(reply.Data, &v); err != nil {
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func watch(ctx context.Context, replay bool) error {
	client, err := connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.Events(replay)
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		msg, err := sub.NextMsgWithContext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		fmt.Println(formatEvent(msg.Data))
	}
}

// formatEvent renders one event as a single line.
func formatEvent(data []byte) string {
	var evt agent.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return string(data)
	}
	ts := evt.Time.Local().Format("15:04:05")
	switch evt.Type {
	case agent.EventStateChanged:
		return fmt.Sprintf("%s state %s -> %s", ts, evt.From, evt.To)
	case agent.EventWakeWord:
		if evt.Detection != nil {
			return fmt.Sprintf("%s wake %q (%.2f, %s)", ts, evt.Detection.Keyword, evt.Detection.Confidence, evt.Detection.Engine)
		}
	case agent.EventError:
		return fmt.Sprintf("%s error [%s] %s", ts, evt.Kind, evt.Message)
	}
	if evt.Session != nil {
		s := evt.Session
		return fmt.Sprintf("%s %s %s %q paragraphs=%d/%d audio=%s", ts, evt.Type, s.ID, s.Prompt,
			s.ParagraphsPlayed, s.ParagraphsGenerated, s.AudioDuration)
	}
	return fmt.Sprintf("%s %s", ts, evt.Type)
}
