// Command client is a headless call client for exercising a running server:
// it joins a room with a silent audio track and reports membership and
// session events until interrupted.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/medbridge/callcore/internal/client"
	"github.com/medbridge/callcore/internal/domain"
)

// opusSilence is one 20ms silent opus frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var (
		serverURL string
		roomID    string
		userID    string
		stun      []string
	)

	root := &cobra.Command{
		Use:   "client",
		Short: "Join a call room and negotiate peer sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, serverURL, domain.RoomID(roomID), domain.UserID(userID), stun)
		},
	}
	root.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/api/ws/signal", "signaling endpoint")
	root.Flags().StringVar(&roomID, "room", "", "room id (appointment id)")
	root.Flags().StringVar(&userID, "user", "", "user id")
	root.Flags().StringSliceVar(&stun, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URIs")
	_ = root.MarkFlagRequired("room")
	_ = root.MarkFlagRequired("user")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, serverURL string, room domain.RoomID, user domain.UserID, stun []string) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "callcore-client",
	)
	if err != nil {
		return err
	}
	go feedSilence(ctx, track)

	capture := client.StaticCapture{Tracks: []webrtc.TrackLocal{track}}
	rc, err := client.Dial(ctx, serverURL, user, capture, stun)
	if err != nil {
		return err
	}
	defer rc.Close()

	rc.OnMemberJoined = func(room domain.RoomID, m domain.Member) {
		log.Info().Str("room", string(room)).Str("conn", string(m.Conn)).Str("user", string(m.User)).Msg("peer arrived")
	}
	rc.OnMemberLeft = func(room domain.RoomID, m domain.Member) {
		log.Info().Str("room", string(room)).Str("conn", string(m.Conn)).Msg("peer left")
	}

	rc.Join(room)
	log.Info().Str("room", string(room)).Str("conn", string(rc.ConnID())).Msg("joined, waiting for peers")

	<-ctx.Done()
	rc.Leave(room)
	return nil
}

func feedSilence(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: 20 * time.Millisecond})
		}
	}
}
