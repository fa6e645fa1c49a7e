package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"collabBoard/backend/internal/board"
	"collabBoard/backend/internal/client"
	"collabBoard/backend/internal/discovery"
	"collabBoard/backend/internal/protocol"
	"collabBoard/backend/internal/render"
)

type botConfig struct {
	Addr     string        `mapstructure:"addr"`
	Room     string        `mapstructure:"room"`
	User     string        `mapstructure:"user"`
	Strokes  int           `mapstructure:"strokes"`
	Points   int           `mapstructure:"points"`
	Interval time.Duration `mapstructure:"interval"`
	Color    string        `mapstructure:"color"`
	Size     float64       `mapstructure:"size"`
	Undo     bool          `mapstructure:"undo"`
	Width    int           `mapstructure:"width"`
	Height   int           `mapstructure:"height"`
	PNG      string        `mapstructure:"png"`
	PDF      string        `mapstructure:"pdf"`
	Service  string        `mapstructure:"service"`
	Browse   time.Duration `mapstructure:"browse"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func initConfig() (*botConfig, error) {
	fs := pflag.NewFlagSet("board_bot", pflag.ExitOnError)
	fs.String("addr", "", "server host:port; empty means discover over mDNS")
	fs.String("room", "lobby", "room to join")
	fs.String("user", "", "user id (default: random)")
	fs.Int("strokes", 3, "number of scripted strokes")
	fs.Int("points", 60, "points per stroke")
	fs.Duration("interval", 8*time.Millisecond, "delay between points")
	fs.String("color", "#1f6feb", "pen color")
	fs.Float64("size", 4, "pen size")
	fs.Bool("undo", false, "undo the last stroke at the end")
	fs.Int("width", 1280, "canvas width")
	fs.Int("height", 720, "canvas height")
	fs.String("png", "board.png", "PNG output path (empty to skip)")
	fs.String("pdf", "board.pdf", "PDF output path (empty to skip)")
	fs.String("service", discovery.DefaultService, "mDNS service name")
	fs.Duration("browse", 2*time.Second, "mDNS browse timeout")
	fs.Duration("timeout", 30*time.Second, "overall run timeout")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("BOARD_BOT")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	cfg := &botConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if cfg.User == "" {
		cfg.User = "bot-" + uuid.NewString()[:8]
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cfg.Addr
	if addr == "" {
		addr, err = discovery.Resolve(ctx, cfg.Service, cfg.Browse)
		if err != nil {
			log.Fatalf("discover server: %v", err)
		}
		log.Printf("discovered board server at %s", addr)
	}

	canvas := render.NewCanvas(cfg.Width, cfg.Height, render.DefaultBackground)
	var replica *client.Replica
	session := client.NewSession(fmt.Sprintf("ws://%s/board/ws", addr), func(msg protocol.ServerMessage) {
		replica.Apply(msg)
	}, client.SessionOptions{})
	replica = client.NewReplica(cfg.Room, cfg.User, session, canvas)
	session.SetOnConnect(replica.Join)

	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("session stopped: %v", err)
		}
	}()
	go client.NewBatcher(replica, client.FlushInterval).Run(ctx)

	if err := replica.WaitSynced(ctx); err != nil {
		log.Fatalf("join room %s: %v", cfg.Room, err)
	}
	log.Printf("joined room %s as %s (%d strokes)", cfg.Room, cfg.User, len(replica.Strokes()))

	meta := board.StrokeMeta{Color: cfg.Color, Size: cfg.Size, Tool: board.ToolPen}
	for i := 0; i < cfg.Strokes; i++ {
		if err := drawWave(ctx, replica, meta, i, cfg); err != nil {
			log.Fatalf("stroke %d: %v", i, err)
		}
	}
	if cfg.Undo {
		if err := replica.Undo(); err != nil {
			log.Printf("undo: %v", err)
		}
	}
	// 等服务端回显（remove_stroke 等）落到本地镜像
	select {
	case <-ctx.Done():
	case <-time.After(300 * time.Millisecond):
	}

	if cfg.PNG != "" {
		if err := canvas.SavePNG(cfg.PNG); err != nil {
			log.Printf("save png: %v", err)
		} else {
			log.Printf("wrote %s", cfg.PNG)
		}
	}
	if cfg.PDF != "" {
		if err := render.SavePDF(cfg.PDF, replica.Strokes(), float64(cfg.Width), float64(cfg.Height), render.DefaultBackground); err != nil {
			log.Printf("save pdf: %v", err)
		} else {
			log.Printf("wrote %s", cfg.PDF)
		}
	}
}

// drawWave 画一条正弦线，每条往下偏移一点
func drawWave(ctx context.Context, r *client.Replica, meta board.StrokeMeta, n int, cfg *botConfig) error {
	y0 := float64(cfg.Height) * float64(n+1) / float64(cfg.Strokes+1)
	step := float64(cfg.Width-80) / float64(max(cfg.Points-1, 1))
	point := func(i int) board.Point {
		x := 40 + step*float64(i)
		return board.Point{X: x, Y: y0 + 30*math.Sin(x/60), T: time.Now().UnixMilli()}
	}

	if err := r.StartStroke(meta, point(0)); err != nil {
		return err
	}
	for i := 1; i < cfg.Points; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Interval):
		}
		r.AddPoint(point(i))
	}
	// 回显没到就结束会丢点，先等绑定
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.WaitBound(waitCtx); err != nil {
		log.Printf("stroke %d not bound yet: %v", n, err)
	}
	return r.EndStroke()
}
