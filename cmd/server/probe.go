package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/router"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/trace"
)

// Replies carry synthesized audio.
const probeReadLimit = 64 << 20

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Send commands to a running server and print the replies",
	Long: `probe connects to the /ws endpoint, sends a detect for --frame, a
start_collect for --collect seconds and a transcribe for --audio, then prints
every reply as a JSON line until all expected replies arrived.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		url, _ := flags.GetString("url")
		framePath, _ := flags.GetString("frame")
		audioPath, _ := flags.GetString("audio")
		target, _ := flags.GetString("target")
		collect, _ := flags.GetFloat64("collect")
		timeout, _ := flags.GetDuration("timeout")

		cmds, err := probeCommands(framePath, audioPath, target, collect)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return probe(ctx, cmd.OutOrStdout(), url, cmds)
	},
}

func init() {
	f := probeCmd.Flags()
	f.String("url", "ws://localhost:8000/ws", "server websocket url")
	f.String("frame", "", "JPEG or PNG file to send with detect")
	f.String("audio", "", "WAV file to send with transcribe")
	f.String("target", "", "target language for transcribe")
	f.Float64("collect", 0, "start a collection window of this many seconds")
	f.Duration("timeout", 30*time.Second, "overall deadline")
}

// probeCommand is one command and the number of replies it produces.
type probeCommand struct {
	cmd     router.Command
	replies int
}

func probeCommands(framePath, audioPath, target string, collect float64) ([]probeCommand, error) {
	traceID := trace.New().TraceID
	var cmds []probeCommand
	if framePath != "" {
		data, err := os.ReadFile(framePath)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, probeCommand{cmd: router.Command{
			Command: router.CmdDetect,
			Frame:   base64.StdEncoding.EncodeToString(data),
			TraceID: traceID,
		}, replies: 1})
	}
	if collect > 0 {
		// Acknowledgement, then the summary.
		cmds = append(cmds, probeCommand{cmd: router.Command{
			Command:  router.CmdStartCollect,
			Duration: &collect,
			TraceID:  traceID,
		}, replies: 2})
	}
	if audioPath != "" {
		data, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, probeCommand{cmd: router.Command{
			Command:    router.CmdTranscribe,
			Audio:      base64.StdEncoding.EncodeToString(data),
			TargetLang: target,
			TraceID:    traceID,
		}, replies: 1})
	}
	if len(cmds) == 0 {
		return nil, fmt.Errorf("nothing to send: pass --frame, --collect or --audio")
	}
	return cmds, nil
}

func probe(ctx context.Context, out io.Writer, url string, cmds []probeCommand) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(probeReadLimit)

	expected := 0
	for _, c := range cmds {
		if err := wsjson.Write(ctx, conn, c.cmd); err != nil {
			return err
		}
		expected += c.replies
	}

	enc := json.NewEncoder(out)
	for range expected {
		var reply json.RawMessage
		if err := wsjson.Read(ctx, conn, &reply); err != nil {
			return err
		}
		if err := enc.Encode(reply); err != nil {
			return err
		}
	}
	return nil
}
