package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/loqalabs/loqa-stream/internal/audio"
	"github.com/loqalabs/loqa-stream/internal/protocol"
	"golang.org/x/sync/errgroup"
)

var version = "0.1.0-dev"

type options struct {
	url      string
	file     string
	chunkMS  int
	realtime bool
	linger   time.Duration
}

func main() {
	var (
		opts        options
		showVersion bool
	)
	flag.StringVar(&opts.url, "url", "ws://localhost:8000/ws/transcribe", "Gateway WebSocket URL")
	flag.StringVar(&opts.file, "file", "", "16-bit PCM WAV file to stream")
	flag.IntVar(&opts.chunkMS, "chunk-ms", 250, "Audio per frame in milliseconds")
	flag.BoolVar(&opts.realtime, "realtime", false, "Pace frames at playback speed")
	flag.DurationVar(&opts.linger, "linger", 3*time.Second, "How long to wait for transcripts after the last frame")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}
	if opts.file == "" {
		fmt.Fprintln(os.Stderr, "-file is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.file, err)
	}
	pcm, format, err := audio.ReadWAV(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.file, err)
	}

	chunks := split(pcm, format.BytesFor(time.Duration(opts.chunkMS)*time.Millisecond))
	if len(chunks) == 0 {
		return errors.New("wav file holds no audio")
	}

	conn, _, err := websocket.Dial(ctx, opts.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "replay finished")
	conn.SetReadLimit(1 << 20)

	g, gctx := errgroup.WithContext(ctx)
	sent := make(chan struct{})
	g.Go(func() error {
		defer close(sent)
		var ticker *time.Ticker
		if opts.realtime {
			ticker = time.NewTicker(format.Duration(len(chunks[0])))
			defer ticker.Stop()
		}
		for _, chunk := range chunks {
			if err := conn.Write(gctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		}
		fmt.Fprintf(out, "sent %d frames (%s of audio at %d Hz)\n", len(chunks), format.Duration(len(pcm)), format.SampleRate)
		return nil
	})

	readCtx, cancelRead := context.WithCancel(gctx)
	defer cancelRead()
	g.Go(func() error {
		select {
		case <-sent:
		case <-gctx.Done():
			return nil
		}
		select {
		case <-time.After(opts.linger):
		case <-gctx.Done():
		}
		cancelRead()
		return nil
	})
	g.Go(func() error {
		for {
			_, data, err := conn.Read(readCtx)
			if err != nil {
				if readCtx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return nil
				}
				return fmt.Errorf("read: %w", err)
			}
			var msg protocol.StreamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				fmt.Fprintf(out, "undecodable message: %s\n", data)
				continue
			}
			printMessage(out, msg)
		}
	})
	return g.Wait()
}

func split(pcm []byte, size int) [][]byte {
	if size <= 0 {
		size = len(pcm)
	}
	var out [][]byte
	for len(pcm) > 0 {
		n := min(size, len(pcm))
		out = append(out, pcm[:n])
		pcm = pcm[n:]
	}
	return out
}

func printMessage(out io.Writer, msg protocol.StreamMessage) {
	switch msg.Type {
	case protocol.MessageSessionStart:
		fmt.Fprintf(out, "session %s started\n", msg.SessionID)
	case protocol.MessageSessionEnd:
		fmt.Fprintf(out, "session %s ended\n", msg.SessionID)
	case protocol.MessageTranscript:
		label := "partial"
		if msg.IsFinal {
			label = "final"
		}
		fmt.Fprintf(out, "#%d [%s] %s\n", msg.Utterance, label, msg.Text)
	default:
		fmt.Fprintf(out, "unknown message type %q\n", msg.Type)
	}
}
