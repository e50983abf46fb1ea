package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	"github.com/viewsync/viewsync/protocol"
	"github.com/viewsync/viewsync/server"
)

const LocalVersion = "0.0.0-local"

func main() {
	usage := `Scene viewer server.

Usage:
    viewerd serve [--config=<path>] [--listen=<address>] [--jwt_secret=<secret>]
        [--status_port=<port>]
        [--record=<path>]
        [--demo]
        [--v=<level>]

Options:
    -h --help                 Show this screen.
    --version                 Show version.
    --config=<path>           Settings file (toml).
    --listen=<address>        Viewer listen address. Overrides the settings file.
    --jwt_secret=<secret>     Client token secret. Overrides the settings file.
    --status_port=<port>      Status listen port [default: 8081].
    --record=<path>           Write a recording of the session on exit.
    --demo                    Populate a demo scene.
    --v=<level>               Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RequireVersion())
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func initGlog(opts docopt.Opts) {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	if v, err := opts.String("--v"); err == nil {
		flag.Set("v", v)
	}
}

func serve(opts docopt.Opts) {
	initGlog(opts)

	settings := server.DefaultServerSettings()
	if configPath, err := opts.String("--config"); err == nil {
		settings, err = server.LoadServerSettings(configPath)
		if err != nil {
			fmt.Printf("Invalid settings (%s).\n", err)
			os.Exit(1)
		}
	}
	if listen, err := opts.String("--listen"); err == nil {
		settings.ListenAddress = listen
	}
	if jwtSecret, err := opts.String("--jwt_secret"); err == nil {
		settings.JwtSecret = jwtSecret
	}
	statusPort, _ := opts.Int("--status_port")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	viewer := server.NewServer(ctx, settings)
	defer viewer.Close()

	var recorder *server.Recorder
	recordPath, recordErr := opts.String("--record")
	if recordErr == nil {
		recorder = server.NewRecorder(viewer.Store, viewer.Dispatcher)
		go runRecorderClock(ctx, recorder)
	}

	if demo, _ := opts.Bool("--demo"); demo {
		if err := populateDemo(viewer); err != nil {
			fmt.Printf("demo error: %s\n", err)
			os.Exit(1)
		}
	}

	viewer.ConnectionManager.AddJoinCallback(func(connection *server.Connection) {
		glog.Infof("[viewerd]join %s (%s)\n", connection.Id(), connection.ClientName())
	})
	viewer.ConnectionManager.AddLeaveCallback(func(connection *server.Connection) {
		glog.Infof("[viewerd]leave %s\n", connection.Id())
	})

	fmt.Printf(
		"Status %s on *:%d\n",
		RequireVersion(),
		statusPort,
	)

	statusServer := &http.Server{
		Addr: fmt.Sprintf(":%d", statusPort),
		Handler: &Status{
			viewer: viewer,
		},
	}

	go func() {
		defer cancel()
		err := statusServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Printf("status error: %s\n", err)
		}
	}()

	go func() {
		defer cancel()
		if err := viewer.ListenAndServe(); err != nil {
			fmt.Printf("viewer error: %s\n", err)
		}
	}()

	select {
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	statusServer.Shutdown(shutdownCtx)

	if recorder != nil {
		recorder.Stop()
		if err := writeRecording(recorder, recordPath); err != nil {
			fmt.Printf("record error: %s\n", err)
		} else {
			fmt.Printf("Recording written to %s\n", recordPath)
		}
	}
}

// runRecorderClock advances the recording timeline with wall time.
func runRecorderClock(ctx context.Context, recorder *server.Recorder) {
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		now := time.Now()
		recorder.InsertSleep(now.Sub(last))
		last = now
	}
}

func writeRecording(recorder *server.Recorder, path string) error {
	b, err := recorder.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// populateDemo builds a small scene with controls wired to it.
func populateDemo(viewer *server.Server) error {
	store := viewer.Store

	grid, err := protocol.NewGrid("/grid", 10, 10, 0.5, 1)
	if err != nil {
		return err
	}
	if err := store.AddSceneNode(grid, nil); err != nil {
		return err
	}
	if err := store.AddSceneNode(protocol.NewFrame("/robot", true, 0.5, 0.02), nil); err != nil {
		return err
	}
	box, err := protocol.NewBox("/robot/body", protocol.Vec3{0.4, 0.2, 0.1}, protocol.Rgb{90, 110, 230})
	if err != nil {
		return err
	}
	if err := store.AddSceneNode(box, nil); err != nil {
		return err
	}
	if err := store.AddSceneNode(protocol.NewTransformControls("/handle", 0.5), nil); err != nil {
		return err
	}

	points := make([]float32, 0, 3*256)
	colors := make([]uint8, 0, 3*256)
	for i := 0; i < 256; i += 1 {
		x := float32(i%16)/8 - 1
		y := float32(i/16)/8 - 1
		points = append(points, x, y, 0.5*x*y)
		colors = append(colors, uint8(i), uint8(255-i), 128)
	}
	cloud, err := protocol.NewPointCloud("/cloud", points, colors, 0.03)
	if err != nil {
		return err
	}
	if err := store.AddSceneNode(cloud, nil); err != nil {
		return err
	}

	folderUuid := protocol.NewElementUuid()
	if err := store.AddGuiComponent(protocol.NewGuiFolder(folderUuid, server.GuiRoot, "Robot", 0)); err != nil {
		return err
	}
	heightUuid := protocol.NewElementUuid()
	height, err := protocol.NewGuiSlider(heightUuid, folderUuid, "Height", 0, 2, 0.05, 0, 0)
	if err != nil {
		return err
	}
	if err := store.AddGuiComponent(height); err != nil {
		return err
	}
	visibleUuid := protocol.NewElementUuid()
	if err := store.AddGuiComponent(protocol.NewGuiCheckbox(visibleUuid, folderUuid, "Show cloud", true, 1)); err != nil {
		return err
	}
	uploadUuid := protocol.NewElementUuid()
	if err := store.AddGuiComponent(protocol.NewGuiUploadButton(uploadUuid, server.GuiRoot, "Upload", "*/*", 1)); err != nil {
		return err
	}

	viewer.Events.AddGuiUpdateCallback(func(event *server.GuiEvent) {
		switch event.Uuid {
		case heightUuid:
			if value, ok := event.Updates["value"].(float64); ok {
				if err := store.SetPosition("/robot", protocol.Vec3{0, 0, value}); err != nil {
					glog.Infof("[demo]height error = %s\n", err)
				}
			}
		case visibleUuid:
			if value, ok := event.Updates["value"].(bool); ok {
				if err := store.SetVisible("/cloud", value); err != nil {
					glog.Infof("[demo]visible error = %s\n", err)
				}
			}
		}
	})

	viewer.Events.AddTransformCallback(func(connectionId server.Id, update *protocol.TransformControlsUpdateMessage) {
		if err := store.SetPosition("/robot/body", update.Position); err != nil {
			glog.Infof("[demo]transform error = %s\n", err)
		}
	})

	// uploads are echoed back as downloads
	viewer.FileTransfers.AddUploadCallback(func(connectionId server.Id, file *server.UploadedFile) {
		glog.Infof("[demo]upload %s (%d bytes) from %s\n", file.Name, len(file.Content), connectionId)
		go func() {
			transfer, err := viewer.FileTransfers.Download(connectionId, &server.FileDownload{
				Filename: file.Name,
				MimeType: file.MimeType,
				Content:  file.Content,
			})
			if err != nil {
				glog.Infof("[demo]download error = %s\n", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := transfer.Wait(ctx); err != nil {
				glog.Infof("[demo]download %s error = %s\n", transfer.TransferUuid(), err)
			}
		}()
	})

	return nil
}

type Status struct {
	viewer *server.Server
}

func (self *Status) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type StatusResult struct {
		Version         string `json:"version,omitempty"`
		Status          string `json:"status"`
		Host            string `json:"host"`
		ConnectionCount int    `json:"connection_count"`
		SceneNodeCount  int    `json:"scene_node_count"`
	}

	result := &StatusResult{
		Version:         RequireVersion(),
		Status:          "ok",
		Host:            RequireHost(),
		ConnectionCount: self.viewer.Registry.Len(),
		SceneNodeCount:  len(self.viewer.Store.SceneNodeNames()),
	}

	responseJson, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJson)
}

func Host() (string, error) {
	host := os.Getenv("VIEWER_HOST")
	if host != "" {
		return host, nil
	}
	host, err := os.Hostname()
	if err == nil {
		return host, nil
	}
	return "", errors.New("VIEWER_HOST not set")
}

func RequireHost() string {
	host, err := Host()
	if err != nil {
		panic(err)
	}
	return host
}

func RequireVersion() string {
	if version := os.Getenv("VIEWER_VERSION"); version != "" {
		return version
	}
	return LocalVersion
}
