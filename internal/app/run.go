// Package app wires a full conference session together: config, identity,
// store transport, signaling client, the WebRTC mesh, push-to-talk and the
// optional caption bridge.
package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/petervdpas/bubbles/internal/config"
	"github.com/petervdpas/bubbles/internal/identity"
	"github.com/petervdpas/bubbles/internal/signal"
	"github.com/petervdpas/bubbles/internal/store"
	"github.com/petervdpas/bubbles/internal/transcribe"
	"github.com/petervdpas/bubbles/internal/util"
)

// Mode selects what Run does with the room.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeJoin   Mode = "join"
)

type Options struct {
	ProfileDir string
	CfgPath    string
	Cfg        config.Config

	Mode        Mode
	RoomName    string // create
	RoomCode    string // join
	DisplayName string

	// Engine, when non-nil, feeds the live caption bridge. The recognizer
	// itself is an external capability; nil disables transcription even when
	// the config and room allow it.
	Engine transcribe.Engine
}

// Run executes one conference session until ctx is cancelled, the room is
// closed by its host, or setup fails.
func Run(ctx context.Context, opt Options) error {
	logBanner(opt.ProfileDir, opt.CfgPath)

	st, err := openStore(ctx, opt.Cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sig := signal.NewClient(st, identity.NewAnonymous())

	var room *signal.Room
	switch opt.Mode {
	case ModeCreate:
		room, err = sig.CreateRoom(ctx, opt.RoomName, opt.DisplayName, signal.Settings{
			PushToTalk:    opt.Cfg.PTT.Enabled,
			Transcription: opt.Cfg.Audio.Transcription,
		})
	case ModeJoin:
		room, err = sig.JoinRoom(ctx, opt.RoomCode, opt.DisplayName)
	default:
		return fmt.Errorf("unknown mode %q", opt.Mode)
	}
	if err != nil {
		return err
	}

	log.Println("────────────────────────────────────────────────────────")
	log.Printf("🫧 Room: %s (%s)", room.Name, room.ID)
	log.Printf("🔗 Share: %s", util.ShareLink(opt.Cfg.Profile.Origin, room.ID))
	log.Println("────────────────────────────────────────────────────────")

	sess, err := newSession(ctx, sig, room, opt)
	if err != nil {
		sig.LeaveRoom(context.Background())
		return err
	}
	return sess.run(ctx)
}

// openStore connects to the configured relay, falling back to an in-process
// store when no URL is set (single machine, mostly for local testing).
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if u := strings.TrimSpace(cfg.Store.URL); u != "" {
		remote, err := store.Dial(ctx, u)
		if err != nil {
			return nil, err
		}
		return remote, nil
	}
	log.Printf("APP: no store.url configured — using in-process store")
	return store.NewMemory(), nil
}

func logBanner(profileDir, cfgPath string) {
	log.Println("────────────────────────────────────────────────────────")
	log.Printf("Profile Directory: %s", profileDir)
	log.Printf("Config File:       %s", cfgPath)
	log.Println("────────────────────────────────────────────────────────")
}
