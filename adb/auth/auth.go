package auth

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/feilongproject/ya-webadb/adb/transport"
	"github.com/feilongproject/ya-webadb/adb/wire"
)

// defaultBanner is the ASCII payload this host sends in its CNXN packet.
const defaultBanner = "host::features=shell_v2,cmd,stat_v2"

// Handshake performs the ADB connection handshake described in spec.md §4.2
// over t: a CNXN banner exchange, and, if the peer demands it, RSA
// challenge/response authentication via keys, falling back to an
// interactive public-key offer once keys are exhausted. It returns once a
// CNXN is received from the peer, or a fatal handshake error.
func Handshake(ctx context.Context, t transport.Transport, keys KeyProvider, pubKeyLabel string) (*State, error) {
	version := wire.VersionSkipChecksum
	maxPayload := wire.DefaultMaxPayloadSize

	cnxn := wire.New(wire.CmdCnxn, version, maxPayload, []byte(defaultBanner+"\x00"))
	if err := t.Send(ctx, cnxn); err != nil {
		return nil, fmt.Errorf("auth: send CNXN: %w", err)
	}

	available := keys.Keys()
	tried := 0
	var lastOffered *PrivateKey

	for {
		pkt, err := t.Recv(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}

		switch pkt.Command {
		case wire.CmdCnxn:
			state := &State{
				Version:     min32(version, pkt.Arg0),
				PeerBanner:  trimNul(pkt.Payload),
				AcceptedKey: lastOffered,
			}
			state.MaxPayloadSize = min32(maxPayload, pkt.Arg1)
			if state.MaxPayloadSize < wire.MinPayloadSize {
				state.MaxPayloadSize = wire.MinPayloadSize
			}
			state.ChecksumRequired = wire.ChecksumRequired(state.Version)
			t.SetNegotiated(state.MaxPayloadSize, state.ChecksumRequired)

			log.Info().
				Uint32("version", state.Version).
				Uint32("max_payload", state.MaxPayloadSize).
				Str("banner", state.PeerBanner).
				Msg("[auth] handshake complete")
			return state, nil

		case wire.CmdAuth:
			if pkt.Arg0 != AuthToken {
				return nil, fmt.Errorf("%w: unexpected AUTH arg0=%d", ErrProtocolViolation, pkt.Arg0)
			}
			if len(available) == 0 {
				return nil, ErrNoKeys
			}

			if tried < len(available) {
				key := available[tried]
				tried++
				sig, err := SignToken(key.Signer, pkt.Payload)
				if err != nil {
					return nil, fmt.Errorf("auth: sign token: %w", err)
				}
				log.Debug().Int("key_index", tried-1).Msg("[auth] offering signature")
				reply := wire.New(wire.CmdAuth, AuthSignature, 0, sig)
				if err := t.Send(ctx, reply); err != nil {
					return nil, fmt.Errorf("auth: send signature: %w", err)
				}
				lastOffered = key
				continue
			}

			// Every key rejected: fall back to the interactive public-key
			// prompt, offering the last key we tried.
			last := available[len(available)-1]
			blob, err := EncodeRSAPublicKeyOffer(&last.Signer.PublicKey, labelOrDefault(pubKeyLabel, last.Comment))
			if err != nil {
				return nil, fmt.Errorf("auth: encode public key offer: %w", err)
			}
			log.Info().Msg("[auth] all keys rejected, offering public key for interactive approval")
			reply := wire.New(wire.CmdAuth, AuthRSAPublicKey, 0, blob)
			if err := t.Send(ctx, reply); err != nil {
				return nil, fmt.Errorf("auth: send public key: %w", err)
			}
			lastOffered = last

		default:
			return nil, fmt.Errorf("%w: unexpected command %v during handshake", ErrProtocolViolation, pkt.Command)
		}
	}
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func labelOrDefault(label, fallback string) string {
	if label != "" {
		return label
	}
	if fallback != "" {
		return fallback
	}
	return "unknown@unknown"
}

func trimNul(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
