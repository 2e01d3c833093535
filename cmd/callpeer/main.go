// Command callpeer joins a call as a headless participant with synthetic media.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/meshcall/internal/adapters/media"
	"github.com/dkeye/meshcall/internal/adapters/rtc"
	"github.com/dkeye/meshcall/internal/adapters/signalclient"
	"github.com/dkeye/meshcall/internal/adapters/store"
	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/app/orch"
	"github.com/dkeye/meshcall/internal/app/peer"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

const (
	frameInterval = 20 * time.Millisecond
	statsPeriod   = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	flags := pflag.NewFlagSet("callpeer", pflag.ExitOnError)
	configPath := flags.String("config", "", "path to config yaml")
	flags.String("signal-url", "", "relay websocket url")
	flags.String("policy", "", "offer policy: all or lower_id")
	flags.String("log-level", "", "log level")
	flags.String("db", "", "sqlite file for call history")
	rawCall := flags.String("call", "", "call id; generated when initiating without one")
	rawSelf := flags.String("self", "", "local participant id")
	participants := flags.StringSlice("participants", nil, "participants of the call, self included")
	video := flags.Bool("video", false, "send video as well as audio")
	accept := flags.Bool("accept", false, "accept an existing call instead of initiating it")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	self, err := domain.ParseParticipantID(*rawSelf)
	if err != nil {
		log.Fatal().Err(err).Msg("--self")
	}
	if *rawCall == "" && !*accept {
		*rawCall = uuid.NewString()
	}
	callID, err := domain.ParseCallID(*rawCall)
	if err != nil {
		log.Fatal().Err(err).Msg("--call")
	}
	members := make([]domain.ParticipantID, 0, len(*participants))
	for _, raw := range *participants {
		id, err := domain.ParseParticipantID(raw)
		if err != nil {
			log.Fatal().Err(err).Str("participant", raw).Msg("--participants")
		}
		members = append(members, id)
	}
	policy, err := app.ParseOfferPolicy(cfg.Call.Policy)
	if err != nil {
		log.Fatal().Err(err).Msg("offer policy")
	}

	factory, err := rtc.NewFactory(rtc.Options{
		ICEServers:          cfg.ICE.Servers,
		DisconnectedTimeout: cfg.ICE.DisconnectedTimeout,
		FailedTimeout:       cfg.ICE.FailedTimeout,
		KeepAliveInterval:   cfg.ICE.KeepaliveInterval,
		IncludeLoopback:     cfg.ICE.IncludeLoopback,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc factory")
	}

	transport := signalclient.New(signalclient.Options{
		URL:         cfg.Signal.URL,
		WriteWait:   cfg.Signal.WriteWait,
		ReadLimit:   cfg.Signal.ReadLimit,
		SendBuffer:  cfg.Signal.SendBuffer,
		ReadTimeout: 2 * cfg.Signal.PingPeriod,

		RedialAttempts: cfg.Signal.RedialAttempts,
		RedialBackoff:  cfg.Signal.RedialBackoff,
		DialTimeout:    cfg.Signal.DialTimeout,
	})

	deps := orch.Deps{
		Transport:   transport,
		Media:       media.NewSource(media.NewSyntheticDevice(string(self), frameInterval)),
		Connections: factory,
		Policy:      policy,
	}
	if cfg.DBPath != "" {
		st, err := store.Open(cfg.DBPath)
		if err != nil {
			log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to open call store")
		}
		defer st.Close()
		deps.Store = st
	}

	o := orch.New(self, deps, orch.Config{
		SettleDelay:      cfg.Call.SettleDelay,
		OfferStagger:     cfg.Call.OfferStagger,
		SubscribeTimeout: cfg.Call.SubscribeTimeout,
		Link: peer.Config{
			AnswerTimeout:  cfg.Call.AnswerTimeout,
			RestartTimeout: cfg.Call.RestartTimeout,
			MaxRestarts:    cfg.Call.MaxRestarts,
		},
	})
	defer o.Close()

	kind := domain.MediaAudio
	if *video {
		kind = domain.MediaAudioVideo
	}
	logger := log.With().Str("call", string(callID)).Str("self", string(self)).Logger()

	if *accept {
		err = o.AcceptCall(ctx, callID, kind)
	} else {
		err = o.InitializeCall(ctx, callID, members, kind)
	}
	if err != nil {
		var me *core.MediaError
		if errors.As(err, &me) {
			logger.Error().Str("reason", me.UserMessage()).Msg("cannot start call")
		}
		logger.Fatal().Err(err).Msg("call failed to start")
	}
	logger.Info().Str("kind", string(kind)).Bool("initiator", !*accept).Msg("in call")

	run(ctx, o, media.NewSink(), logger)
}

// run logs call events and drains remote tracks until the call ends.
func run(ctx context.Context, o *orch.Orchestrator, sink *media.Sink, logger zerolog.Logger) {
	stats := time.NewTicker(statsPeriod)
	defer stats.Stop()
	defer sink.Wait()

	// SIGUSR1 mutes or unmutes the microphone, SIGUSR2 the camera.
	toggles := make(chan os.Signal, 1)
	signal.Notify(toggles, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(toggles)

	for {
		select {
		case ev := <-o.Events():
			switch ev.Kind {
			case orch.EventTrackAdded:
				logger.Info().Str("remote", string(ev.Participant)).Str("track", ev.Track.ID()).Msg("track added")
				sink.Consume(ctx, ev.Participant, ev.Track)
			case orch.EventPeerState:
				logger.Info().Str("remote", string(ev.Participant)).Str("state", ev.Peer.State.String()).Msg("peer state")
			case orch.EventPeerFailed:
				logger.Warn().Err(ev.Err).Str("remote", string(ev.Participant)).Msg("peer failed")
			case orch.EventParticipantLeft, orch.EventStreamRemoved:
				logger.Info().Str("remote", string(ev.Participant)).Str("event", string(ev.Kind)).Msg("participant gone")
			case orch.EventCallEnded:
				logger.Info().Msg("call ended")
				return
			}
		case sig := <-toggles:
			if sig == syscall.SIGUSR1 {
				logger.Info().Bool("enabled", o.ToggleAudio()).Msg("audio toggled")
			} else {
				logger.Info().Bool("enabled", o.ToggleVideo()).Msg("video toggled")
			}
		case <-stats.C:
			for _, st := range sink.Stats() {
				logger.Info().
					Str("remote", string(st.Participant)).
					Str("kind", st.Kind).
					Uint64("packets", st.Packets).
					Uint64("bytes", st.Bytes).
					Msg("inbound track")
			}
		}
	}
}
