package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/viewsync/viewsync/protocol"
	"github.com/viewsync/viewsync/server"
)

const ViewerCtlVersion = "0.0.1"

const DefaultServerUrl = "ws://127.0.0.1:8080"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Scene viewer control.

The default urls are:
    server_url: %s

Usage:
    viewerctl token --client_name=<name> [--secret=<secret>] [--valid_for=<duration>]
    viewerctl sink [--server_url=<server_url>] [--jwt=<jwt>]
        [--message_count=<message_count>]
        [--download_dir=<dir>]
    viewerctl upload [--server_url=<server_url>] [--jwt=<jwt>]
        --component=<uuid>
        <path>
    viewerctl play <recording>

Options:
    -h --help                        Show this screen.
    --version                        Show version.
    --server_url=<server_url>
    --jwt=<jwt>                      Client token, when the server requires one.
    --client_name=<name>
    --secret=<secret>                Token secret. Prompted when not given.
    --valid_for=<duration>           Token lifetime, e.g. 24h. Tokens do not expire by default.
    --message_count=<message_count>  Print this many messages then exit.
    --download_dir=<dir>             Save downloads sent by the server here.
    --component=<uuid>               The upload button the file is for.`,
		DefaultServerUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ViewerCtlVersion)
	if err != nil {
		panic(err)
	}

	if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if sink_, _ := opts.Bool("sink"); sink_ {
		sink(opts)
	} else if upload_, _ := opts.Bool("upload"); upload_ {
		upload(opts)
	} else if play_, _ := opts.Bool("play"); play_ {
		play(opts)
	}
}

func serverUrl(opts docopt.Opts) string {
	if serverUrl, err := opts.String("--server_url"); err == nil {
		return serverUrl
	}
	return DefaultServerUrl
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
}

// mint a client token
func token(opts docopt.Opts) {
	clientName, _ := opts.String("--client_name")

	secret, err := opts.String("--secret")
	if err != nil {
		fmt.Print("Enter secret: ")
		secretBytes, err := term.ReadPassword(int(syscall.Stdin))
		if err != nil {
			panic(err)
		}
		secret = string(secretBytes)
		fmt.Printf("\n")
	}

	var validFor time.Duration
	if validForStr, err := opts.String("--valid_for"); err == nil {
		validFor, err = time.ParseDuration(validForStr)
		if err != nil {
			fmt.Printf("Invalid valid_for (%s).\n", err)
			return
		}
	}

	jwt, err := server.SignClientJwt(secret, clientName, validFor)
	if err != nil {
		panic(err)
	}
	Out.Printf("%s", jwt)
}

type download struct {
	start         *protocol.FileTransferStartDownload
	content       []byte
	receivedBytes int64
}

// listen for messages
func sink(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")

	var messageCount int
	if messageCount_, err := opts.Int("--message_count"); err == nil {
		messageCount = messageCount_
	} else {
		messageCount = -1
	}
	downloadDir, downloadDirErr := opts.String("--download_dir")

	ctx, cancel := signalContext()
	defer cancel()

	settings := server.DefaultServerSettings()
	transport, err := server.DialViewer(ctx, serverUrl(opts), jwt, settings)
	if err != nil {
		Err.Printf("Could not connect (%s).", err)
		return
	}
	defer transport.Close()

	// on a terminal, keep one line per window
	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	downloads := map[string]*download{}

	for i := 0; messageCount < 0 || i < messageCount; {
		window, err := transport.Receive(ctx)
		if err != nil {
			Err.Printf("Receive error (%s).", err)
			return
		}
		messages, err := protocol.DecodeWindow(window)
		if err != nil {
			Err.Printf("Window error (%s).", err)
		}

		if interactive {
			kinds := make([]string, 0, len(messages))
			for _, message := range messages {
				kinds = append(kinds, message.Kind().String())
			}
			Out.Printf("[%d] %s", len(messages), strings.Join(kinds, " "))
		}

		for _, message := range messages {
			if !interactive {
				Out.Printf("%s\t%s", message.Kind(), describe(message))
			}

			switch v := message.(type) {
			case *protocol.FileTransferStartDownload:
				downloads[v.TransferUuid] = &download{
					start:   v,
					content: make([]byte, 0, v.SizeBytes),
				}
			case *protocol.FileTransferPart:
				d, ok := downloads[v.TransferUuid]
				if !ok {
					continue
				}
				d.content = append(d.content, v.Content...)
				d.receivedBytes += int64(len(v.Content))
				ack := &protocol.FileTransferPartAck{
					TransferUuid:     v.TransferUuid,
					TransferredBytes: d.receivedBytes,
					TotalBytes:       d.start.SizeBytes,
				}
				b, err := protocol.EncodeWindow([]protocol.Message{ack})
				if err != nil {
					panic(err)
				}
				if err := transport.Send(ctx, b); err != nil {
					Err.Printf("Ack error (%s).", err)
					return
				}
				if d.receivedBytes == d.start.SizeBytes {
					delete(downloads, v.TransferUuid)
					if downloadDirErr == nil {
						path := filepath.Join(downloadDir, filepath.Base(d.start.Filename))
						if err := os.WriteFile(path, d.content, 0o644); err != nil {
							Err.Printf("Download error (%s).", err)
						} else {
							Out.Printf("Saved %s (%d bytes).", path, len(d.content))
						}
					}
				}
			}

			i += 1
			if 0 <= messageCount && messageCount <= i {
				break
			}
		}
	}
}

func describe(message protocol.Message) string {
	switch v := message.(type) {
	case *protocol.SceneNodeMessage:
		return v.Name
	case *protocol.RemoveSceneNodeMessage:
		return v.Name
	case *protocol.SetPositionMessage:
		return fmt.Sprintf("%s %v", v.Name, v.Position)
	case *protocol.SetOrientationMessage:
		return fmt.Sprintf("%s %v", v.Name, v.Wxyz)
	case *protocol.SceneNodeUpdateMessage:
		return fmt.Sprintf("%s %v", v.Name, v.Updates.Names())
	case *protocol.GuiComponentMessage:
		return fmt.Sprintf("%s in %s", v.Uuid, v.ContainerUuid)
	case *protocol.GuiUpdateMessage:
		return fmt.Sprintf("%s %v", v.Uuid, v.Updates)
	case *protocol.GuiRemoveMessage:
		return v.Uuid
	case *protocol.FileTransferStartDownload:
		return fmt.Sprintf("%s %s (%d bytes)", v.TransferUuid, v.Filename, v.SizeBytes)
	case *protocol.FileTransferPart:
		return fmt.Sprintf("%s[%d]", v.TransferUuid, v.PartIndex)
	default:
		return ""
	}
}

// send a file to an upload button
func upload(opts docopt.Opts) {
	jwt, _ := opts.String("--jwt")
	componentUuid, _ := opts.String("--component")
	path, _ := opts.String("<path>")

	content, err := os.ReadFile(path)
	if err != nil {
		Err.Printf("Could not read %s (%s).", path, err)
		return
	}

	ctx, cancel := signalContext()
	defer cancel()

	settings := server.DefaultServerSettings()
	transport, err := server.DialViewer(ctx, serverUrl(opts), jwt, settings)
	if err != nil {
		Err.Printf("Could not connect (%s).", err)
		return
	}
	defer transport.Close()

	chunk := int(settings.FileTransfer.ChunkByteCount)
	partCount := (len(content) + chunk - 1) / chunk
	transferUuid := protocol.NewElementUuid()

	messages := []protocol.Message{
		&protocol.FileTransferStartUpload{
			SourceComponentUuid: componentUuid,
			TransferUuid:        transferUuid,
			Filename:            filepath.Base(path),
			MimeType:            "application/octet-stream",
			PartCount:           partCount,
			SizeBytes:           int64(len(content)),
		},
	}
	for i := 0; i < partCount; i += 1 {
		end := min((i+1)*chunk, len(content))
		messages = append(messages, &protocol.FileTransferPart{
			SourceComponentUuid: componentUuid,
			TransferUuid:        transferUuid,
			PartIndex:           i,
			Content:             content[i*chunk : end],
		})
	}
	for _, message := range messages {
		b, err := protocol.EncodeWindow([]protocol.Message{message})
		if err != nil {
			panic(err)
		}
		if err := transport.Send(ctx, b); err != nil {
			Err.Printf("Send error (%s).", err)
			return
		}
	}
	if partCount == 0 {
		Out.Printf("Uploaded %s (0 bytes).", path)
		return
	}

	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, 30*time.Second)
	defer timeoutCancel()
	for {
		window, err := transport.Receive(timeoutCtx)
		if err != nil {
			Err.Printf("Upload not acked (%s).", err)
			return
		}
		messages, _ := protocol.DecodeWindow(window)
		for _, message := range messages {
			if ack, ok := message.(*protocol.FileTransferPartAck); ok && ack.TransferUuid == transferUuid {
				if ack.TransferredBytes == ack.TotalBytes {
					Out.Printf("Uploaded %s (%d bytes).", path, ack.TotalBytes)
					return
				}
			}
		}
	}
}

// print the timeline of a recording
func play(opts docopt.Opts) {
	path, _ := opts.String("<recording>")

	b, err := os.ReadFile(path)
	if err != nil {
		Err.Printf("Could not read %s (%s).", path, err)
		return
	}
	recording, err := server.LoadRecording(b)
	if err != nil {
		Err.Printf("Invalid recording (%s).", err)
		return
	}
	messages, offsets, err := recording.Decode()
	if err != nil {
		Err.Printf("Invalid recording (%s).", err)
		return
	}
	for i, message := range messages {
		Out.Printf("%8.3fs\t%s\t%s", offsets[i], message.Kind(), describe(message))
	}
	Out.Printf("%d messages over %.3fs", len(messages), recording.DurationSeconds)
}
