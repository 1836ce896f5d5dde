// Package app wires the peer together: socket, engines, dispatcher, the
// background loops, and the interactive shell in the foreground.
package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/petervdpas/lsnp/internal/actions"
	"github.com/petervdpas/lsnp/internal/avatar"
	"github.com/petervdpas/lsnp/internal/config"
	"github.com/petervdpas/lsnp/internal/dispatch"
	"github.com/petervdpas/lsnp/internal/file"
	"github.com/petervdpas/lsnp/internal/game"
	"github.com/petervdpas/lsnp/internal/group"
	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/mq"
	"github.com/petervdpas/lsnp/internal/netutil"
	"github.com/petervdpas/lsnp/internal/presence"
	"github.com/petervdpas/lsnp/internal/shell"
	"github.com/petervdpas/lsnp/internal/state"
	"github.com/petervdpas/lsnp/internal/token"
	"github.com/petervdpas/lsnp/internal/transport"
	"github.com/petervdpas/lsnp/internal/util"
)

type Options struct {
	CfgPath string
	Cfg     config.Config
}

// Run starts the peer and blocks until the shell exits or ctx is
// cancelled. Shutdown broadcasts a REVOKE for every token this process
// minted.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg
	logger.SetLevel(cfg.Log.Level)
	lg := logger.New(cfg.Log.Verbose)

	localIP := netutil.LocalIP()
	bcast := cfg.Network.BroadcastAddr
	if bcast == "" {
		bcast = netutil.BroadcastAddr()
	}
	bcastIP := net.ParseIP(bcast)
	if bcastIP == nil {
		return fmt.Errorf("bad broadcast address %q", bcast)
	}

	udp, err := transport.Listen(cfg.Network.Port, bcastIP, lg)
	if err != nil {
		return err
	}
	defer udp.Close()

	// Relative paths in the config resolve against the config file's
	// directory, not the working directory the peer happened to start in.
	cfgDir := filepath.Dir(opt.CfgPath)

	store := state.New(localIP)
	games := game.NewManager()
	groups := group.NewManager()
	files := file.NewManager(file.DirSink{Dir: util.ResolvePath(cfgDir, cfg.Files.DownloadDir)})
	revoked := token.NewRevocationList()
	issued := token.NewIssuedLog()

	clk := clock.New()
	tracker := mq.NewTracker(clk, udp.SendTo, lg,
		time.Duration(cfg.Reliability.AckTimeoutSec)*time.Second,
		cfg.Reliability.MaxAttempts)

	acts := &actions.Actions{
		Store:     store,
		Games:     games,
		Groups:    groups,
		Tracker:   tracker,
		Revoked:   revoked,
		Issued:    issued,
		Log:       lg,
		Net:       udp,
		TokenTTL:  time.Duration(cfg.Tokens.TTLSec) * time.Second,
		ChunkSize: cfg.Files.ChunkSize,
	}

	disp := dispatch.New(dispatch.Deps{
		Store:   store,
		Games:   games,
		Groups:  groups,
		Files:   files,
		Tracker: tracker,
		Revoked: revoked,
		Log:     lg,
		Send: func(frame []byte, ip string) error {
			return udp.SendTo(frame, udp.Addr(ip))
		},
	})

	// Every profile change re-announces immediately.
	store.OnProfileChange(func(state.Profile) {
		if err := acts.SendProfile(); err != nil {
			lg.LogError("app", err)
		}
	})

	sh := &shell.Shell{
		Acts:   acts,
		Store:  store,
		Games:  games,
		Groups: groups,
		Files:  files,
		Log:    lg,
		In:     os.Stdin,
		Out:    os.Stdout,
	}
	disp.OnEvent(sh.Notify)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go udp.Run(ctx, func(raw []byte, src *net.UDPAddr) {
		disp.Handle(raw, src.IP.String())
	})
	go tracker.Run(ctx)

	bcaster := presence.New(clk,
		time.Duration(cfg.Network.BroadcastSec)*time.Second, store, acts, lg)
	go bcaster.Run(ctx)

	// Live edits to the config file update the profile and verbosity.
	if opt.CfgPath != "" {
		err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			lg.SetVerbose(next.Log.Verbose)
			if next.Profile.Username == "" {
				return
			}
			if _, err := store.SetOwnProfile(next.Profile.Username,
				next.Profile.DisplayName, next.Profile.Status); err != nil {
				lg.LogError("config", err)
			}
		}, func(err error) {
			lg.LogError("config", err)
		})
		if err != nil {
			lg.LogError("config", err)
		}
	}

	// Seed the identity from the config when it names one.
	if cfg.Profile.Username != "" {
		display := cfg.Profile.DisplayName
		if display == "" {
			display = cfg.Profile.Username
		}
		if _, err := store.SetOwnProfile(cfg.Profile.Username, display, cfg.Profile.Status); err != nil {
			return fmt.Errorf("profile from config: %w", err)
		}
		if cfg.Profile.AvatarFile != "" {
			if mimeType, data, err := avatar.Load(util.ResolvePath(cfgDir, cfg.Profile.AvatarFile)); err != nil {
				lg.LogError("avatar", err)
			} else {
				store.SetOwnAvatar(mimeType, data)
			}
		}
	}

	fmt.Printf("lsnp peer %s on port %d (broadcast %s)\n", localIP, udp.Port(), bcast)

	done := make(chan struct{})
	go func() {
		sh.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	// Best-effort courtesy to the LAN: everything we minted dies with us.
	acts.RevokeIssued()
	return nil
}
