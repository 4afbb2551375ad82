package app

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/petervdpas/bubbles/internal/config"
	"github.com/petervdpas/bubbles/internal/ptt"
	"github.com/petervdpas/bubbles/internal/rtc"
	"github.com/petervdpas/bubbles/internal/signal"
	"github.com/petervdpas/bubbles/internal/state"
	"github.com/petervdpas/bubbles/internal/transcribe"
	"github.com/petervdpas/bubbles/internal/util"
)

// session is one joined room: the mesh, the roster table, push-to-talk and
// the subscriptions driving them.
type session struct {
	opt  Options
	sig  *signal.Client
	room *signal.Room

	mgr    *rtc.Manager
	table  *state.RoomTable
	pttCtl *ptt.Controller
	tstore *transcribe.Store

	rosterCh     <-chan signal.RosterEvent
	rosterCancel func()
	roomCh       <-chan *signal.Room
	roomCancel   func()
	captionCh    <-chan signal.Caption
	captionDone  func()

	quit chan struct{}
}

func newSession(ctx context.Context, sig *signal.Client, room *signal.Room, opt Options) (*session, error) {
	s := &session{
		opt:   opt,
		sig:   sig,
		room:  room,
		table: state.NewRoomTable(),
		quit:  make(chan struct{}),
	}
	s.table.SetRoom(room)

	rtcCfg := rtc.Config{ICEServers: iceServers(opt.Cfg.ICE)}
	if dir := opt.Cfg.Audio.RecordDir; dir != "" {
		rtcCfg.RecordDir = util.ResolvePath(opt.ProfileDir, dir)
	}
	s.mgr = rtc.New(sig, rtcCfg)

	selfID := sig.SelfID()
	s.mgr.OnStateChange(func(peerID string, st rtc.EntryState) {
		s.table.SetConn(peerID, connState(st))
	})
	s.mgr.OnSpeaking(func(peerID string, speaking bool) {
		if p, ok := s.table.Get(peerID); ok {
			p.IsSpeaking = speaking
			s.table.Upsert(p.Participant)
		}
	})

	if err := s.mgr.InitializeLocalStream(); err != nil {
		// Receive-only is a degraded but valid session.
		log.Printf("APP: %v", err)
	}

	pttEnabled := opt.Cfg.PTT.Enabled && room.Settings.PushToTalk
	s.pttCtl = ptt.New(pttEnabled, opt.Cfg.PTT.Key, func(muted bool) {
		s.mgr.SetMuted(muted)
		s.sig.UpdateMute(ctx, selfID, muted)
		// Read the controller live: a config hot-reload can flip PTT mode
		// mid-session, and the speaking mirror must follow it.
		s.sig.UpdateSpeaking(ctx, selfID, !muted && s.pttCtl.Enabled())
	})
	if pttEnabled {
		// PTT starts muted until the key is held.
		s.pttCtl.SetManualMute(false)
		s.mgr.SetMuted(true)
		s.sig.UpdateMute(ctx, selfID, true)
	}

	s.rosterCh, s.rosterCancel = sig.Participants(room.ID)
	s.roomCh, s.roomCancel = sig.RoomUpdates(room.ID)

	if err := s.mgr.InitializeRoom(room.ID, selfID); err != nil {
		s.rosterCancel()
		s.roomCancel()
		return nil, err
	}

	s.setupTranscription(ctx)
	return s, nil
}

// setupTranscription starts the caption bridge when both sides allow it: the
// local config and the room settings. Missing engine just means captions
// from others are still displayed.
func (s *session) setupTranscription(ctx context.Context) {
	if !s.room.Settings.Transcription {
		return
	}
	s.captionCh, s.captionDone = s.sig.Captions(s.room.ID)

	if !s.opt.Cfg.Audio.Transcription || s.opt.Engine == nil {
		return
	}
	dir := util.ResolvePath(s.opt.ProfileDir, s.opt.Cfg.Audio.TranscriptDir)
	tstore, err := transcribe.OpenStore(dir)
	if err != nil {
		log.Printf("APP: transcript store disabled: %v", err)
	} else {
		s.tstore = tstore
	}
	bridge := transcribe.NewBridge(s.opt.Engine, s.sig, s.tstore, s.room.ID, s.sig.SelfID(), s.opt.DisplayName)
	go bridge.Run(ctx)
	log.Printf("APP: transcription bridge running")
}

// run drives the session until ctx is cancelled or the room is closed.
func (s *session) run(ctx context.Context) error {
	go s.watchConfig(ctx)
	go s.readCommands(ctx)
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.quit:
			return nil

		case evt, ok := <-s.rosterCh:
			if !ok {
				return fmt.Errorf("roster subscription lost")
			}
			switch evt.Type {
			case signal.RosterLeft:
				log.Printf("APP: 👋 %s left", evt.Participant.Name)
				s.table.Remove(evt.Participant.ID)
			case signal.RosterJoined:
				log.Printf("APP: 🙋 %s joined", evt.Participant.Name)
				s.table.Upsert(evt.Participant)
			default:
				s.table.Upsert(evt.Participant)
			}
			s.mgr.Reconcile(ctx, evt.Roster)

		case room, ok := <-s.roomCh:
			if !ok {
				return fmt.Errorf("room subscription lost")
			}
			s.table.SetRoom(room)
			if room == nil {
				log.Printf("APP: room closed by host — leaving")
				return nil
			}

		case cap, ok := <-s.captionCh:
			if !ok {
				s.captionCh = nil
				continue
			}
			if cap.Final {
				log.Printf("💬 %s: %s", cap.Name, cap.Text)
			}
		}
	}
}

// watchConfig applies config edits that are safe mid-session: the PTT toggle
// and key binding. ICE changes only affect connections made after a restart.
func (s *session) watchConfig(ctx context.Context) {
	if s.opt.CfgPath == "" {
		return
	}
	err := config.Watch(ctx, s.opt.CfgPath, func(cfg config.Config) {
		s.pttCtl.SetEnabled(cfg.PTT.Enabled && s.room.Settings.PushToTalk)
		s.pttCtl.Rebind(cfg.PTT.Key)
	})
	if err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	}
}

// readCommands is the interactive control surface: single-letter commands on
// stdin, in place of a key hook the terminal cannot provide.
//
//	m            toggle manual mute
//	t            tap the push-to-talk key (press; again to release)
//	v <id> <n>   set playback volume for a peer (id prefix ok)
//	r            print roster with connection states
//	o            open the share link in the browser
//	q            leave
func (s *session) readCommands(ctx context.Context) {
	sc := bufio.NewScanner(os.Stdin)
	pressed := false
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "m":
			s.pttCtl.SetManualMute(!s.pttCtl.ManualMute())
			log.Printf("APP: muted=%v", s.mgr.Muted())
		case "t":
			key := s.pttCtl.Key()
			if pressed {
				s.pttCtl.Release(key)
			} else {
				s.pttCtl.Press(key)
			}
			pressed = !pressed
		case "v":
			if len(fields) != 3 {
				log.Printf("APP: usage: v <id-prefix> <0-100>")
				continue
			}
			vol, err := strconv.Atoi(fields[2])
			if err != nil {
				log.Printf("APP: bad volume %q", fields[2])
				continue
			}
			id, ok := s.resolvePeer(fields[1])
			if !ok {
				log.Printf("APP: no peer matches %q", fields[1])
				continue
			}
			s.mgr.SetParticipantVolume(id, vol)
			s.table.SetVolume(id, vol)
		case "r":
			s.printRoster()
		case "o":
			link := util.ShareLink(s.opt.Cfg.Profile.Origin, s.room.ID)
			if err := util.OpenURL(link); err != nil {
				log.Printf("APP: open %s: %v", link, err)
			}
		case "q":
			log.Printf("APP: leaving on request")
			close(s.quit)
			return
		}
	}
}

func (s *session) resolvePeer(prefix string) (string, bool) {
	for id := range s.table.Snapshot() {
		if strings.HasPrefix(id, prefix) {
			return id, true
		}
	}
	return "", false
}

func (s *session) printRoster() {
	for id, p := range s.table.Snapshot() {
		flags := ""
		if p.IsHost {
			flags += " host"
		}
		if p.IsMuted {
			flags += " muted"
		}
		if p.IsSpeaking {
			flags += " speaking"
		}
		stats := ""
		if st, ok := s.mgr.Stats(id); ok && st.FractionLost > 0 {
			stats = fmt.Sprintf(" loss=%.1f%%", st.FractionLost*100)
		}
		log.Printf("APP: %-8.8s %-20s %s%s%s", id, p.Name, p.Conn, flags, stats)
	}
}

// teardown leaves the room in strict order: stop the mesh (mailbox
// unsubscribe, peer connections, microphone), then the roster subscriptions,
// then the store-side leave. Idempotent via the manager and client.
func (s *session) teardown() {
	s.mgr.Cleanup()
	s.rosterCancel()
	s.roomCancel()
	if s.captionDone != nil {
		s.captionDone()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.sig.LeaveRoom(ctx)

	if s.tstore != nil {
		s.summarize(ctx)
		s.tstore.Close()
	}
}

// summarize prints a meeting summary when an OpenAI key is configured.
func (s *session) summarize(ctx context.Context) {
	if s.opt.Cfg.Audio.OpenAIKey == "" {
		return
	}
	lines, err := s.tstore.Lines(ctx, s.room.ID)
	if err != nil || len(lines) == 0 {
		return
	}
	sum := transcribe.NewOpenAISummarizer(s.opt.Cfg.Audio.OpenAIKey, s.opt.Cfg.Audio.OpenAIModel)
	text, err := sum.Summarize(ctx, lines)
	if err != nil {
		log.Printf("APP: summary failed: %v", err)
		return
	}
	log.Println("────────────────────────────────────────────────────────")
	log.Printf("📝 Meeting summary:\n%s", text)
	log.Println("────────────────────────────────────────────────────────")
}

// iceServers translates config entries into Pion's type.
func iceServers(ice config.ICE) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(ice.Servers))
	for _, srv := range ice.Servers {
		out = append(out, webrtc.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	return out
}

// connState maps mesh entry states onto the display table.
func connState(st rtc.EntryState) state.ConnState {
	switch st {
	case rtc.StateWaiting, rtc.StateConnecting:
		return state.ConnConnecting
	case rtc.StateConnected:
		return state.ConnConnected
	case rtc.StateDisconnected:
		return state.ConnDisconnected
	case rtc.StateFailed:
		return state.ConnFailed
	default:
		return state.ConnNone
	}
}
