package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"

	"cfclient/cfproto"

	"github.com/gdamore/tcell/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var baseDir string

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	fs := newFlagSet()
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: cfclient [flags] [recording...]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	baseDir = os.Getenv("PWD")
	if baseDir == "" {
		var err error
		if baseDir, err = os.Getwd(); err != nil {
			fmt.Fprintf(os.Stderr, "get working directory: %v\n", err)
			return 1
		}
	}

	v := viper.New()
	if err := loadSettings(v, fs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	setupLogging(gs.Debug)
	defer closeLogging()
	defer recoverPanic(&code)

	if save, _ := fs.GetBool("save"); save {
		if err := saveSettings(v); err != nil {
			logError("%v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	connect, _ := fs.GetString("connect")
	paths := fs.Args()
	switch {
	case connect != "":
		if err := runLive(ctx, cancel); err != nil && !errors.Is(err, context.Canceled) {
			logError("%v", err)
			return 1
		}
	case len(paths) == 0:
		fs.Usage()
		return 2
	case gs.View:
		if len(paths) > 1 {
			logWarn("--view shows only %s", paths[0])
		}
		if err := viewReplay(ctx, cancel, paths[0]); err != nil && !errors.Is(err, context.Canceled) {
			logError("%v", err)
			return 1
		}
	default:
		for i, p := range paths {
			if !filepath.IsAbs(p) {
				paths[i] = filepath.Join(baseDir, p)
			}
		}
		if failed := replayFiles(ctx, paths, os.Stdout); failed > 0 {
			return 1
		}
	}
	return 0
}

// recoverPanic logs a panic and turns it into exit status 1.
func recoverPanic(code *int) {
	if r := recover(); r != nil {
		logError("panic: %v\n%s", r, debug.Stack())
		*code = 1
	}
}

// runLive connects to gs.Host and mirrors the server's map until the
// connection closes.
func runLive(ctx context.Context, cancel context.CancelFunc) error {
	var conn *cfproto.Conn
	c, err := newClient(gs.Host, cfproto.WithFaceRequester(func(id int) {
		if conn != nil {
			conn.AskFace(id)
		}
	}))
	if err != nil {
		return err
	}

	var opts []cfproto.ConnOption
	opts = append(opts, cfproto.WithConnLogger(log))
	if gs.Record != "" {
		f, err := os.Create(gs.Record)
		if err != nil {
			return fmt.Errorf("record: %w", err)
		}
		defer f.Close()
		opts = append(opts, cfproto.WithRecorder(f))
	}

	conn, err = cfproto.Dial(ctx, gs.Host, c.dec, opts...)
	if err != nil {
		return err
	}
	defer conn.Close()
	logDebug("connected to %s", gs.Host)

	if gs.View {
		restore, err := startView(c, cancel, nil)
		if err != nil {
			return err
		}
		defer restore()
	}
	if err := conn.Handshake(gs.MapWidth, gs.MapHeight); err != nil {
		return err
	}
	err = conn.Run(ctx)
	c.logStats()
	return err
}

// viewReplay plays a single recording on the terminal.
func viewReplay(ctx context.Context, cancel context.CancelFunc, path string) error {
	frames, err := parseRecording(path)
	if err != nil {
		return err
	}
	c, err := newClient(filepath.Base(path))
	if err != nil {
		return err
	}
	fps := gs.FPS
	if fps <= 0 {
		fps = 30
	}
	p := newReplayer(c, frames, fps)
	restore, err := startView(c, cancel, replayKeys(p, fps))
	if err != nil {
		return err
	}
	defer restore()
	return p.play(ctx)
}

// replayKeys maps the arrow keys to ten second skips and Home to the start
// of the recording.
func replayKeys(p *replayer, fps int) func(*tcell.EventKey) {
	step := 10 * fps
	return func(ev *tcell.EventKey) {
		switch ev.Key() {
		case tcell.KeyLeft:
			p.skip(-step)
		case tcell.KeyRight:
			p.skip(step)
		case tcell.KeyHome:
			p.skip(-len(p.frames))
		}
	}
}
