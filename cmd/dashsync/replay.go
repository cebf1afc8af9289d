package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/remote-agent-terminal/dashsync/internal/envelope"
	"github.com/remote-agent-terminal/dashsync/internal/recorder"
)

func newReplayCmd() *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Print a recorded frame transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return printTranscript(cmd.OutOrStdout(), f, topic)
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "only show frames with this topic")
	return cmd
}

// printTranscript writes one line per event. Frames are shown by topic;
// markers are always shown.
func printTranscript(w io.Writer, r io.Reader, topic string) error {
	header, events, err := recorder.Read(r)
	if err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}

	gray := color.New(color.FgHiBlack)
	inbound := color.New(color.FgGreen)
	outbound := color.New(color.FgCyan)
	marker := color.New(color.FgYellow)

	started := time.Unix(header.Timestamp, 0).UTC().Format(time.RFC3339)
	fmt.Fprintf(w, "%s (started %s, %d events)\n", header.Title, started, len(events))

	for _, ev := range events {
		offset := gray.Sprintf("%9.3fs", ev.TimeOffset)
		if ev.EventType == recorder.EventMarker {
			fmt.Fprintf(w, "%s %s %s\n", offset, marker.Sprint("--"), ev.Data)
			continue
		}

		arrow := inbound.Sprint("<-")
		if ev.EventType == recorder.EventOutbound {
			arrow = outbound.Sprint("->")
		}
		env, err := envelope.Decode([]byte(ev.Data))
		if err != nil {
			if topic == "" {
				fmt.Fprintf(w, "%s %s %s %s\n", offset, arrow, color.RedString("invalid"), ev.Data)
			}
			continue
		}
		if topic != "" && env.Topic() != topic {
			continue
		}
		fmt.Fprintf(w, "%s %s %s %s\n", offset, arrow, env.Topic(), env.Payload())
	}
	return nil
}
