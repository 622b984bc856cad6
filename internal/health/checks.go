package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// ErrGatewayNotReady is reported while the Discord gateway has not
// completed its READY handshake.
var ErrGatewayNotReady = errors.New("gateway not ready")

// Discord returns a [Checker] that passes once s has received READY.
func Discord(s *discordgo.Session) Checker {
	return Checker{
		Name: "discord",
		Check: func(context.Context) error {
			if s == nil {
				return ErrGatewayNotReady
			}
			s.RLock()
			ready := s.DataReady
			s.RUnlock()
			if !ready {
				return ErrGatewayNotReady
			}
			return nil
		},
	}
}

// BinaryChecker is implemented by components that depend on an external
// executable, such as the ffmpeg transcoder.
type BinaryChecker interface {
	Check(ctx context.Context) error
}

// Binary returns a [Checker] named name that delegates to b.
func Binary(name string, b BinaryChecker) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if err := b.Check(ctx); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		},
	}
}
