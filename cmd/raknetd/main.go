// Command raknetd is a RakNet echo server. Every message a client sends is
// sent back to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/getlantern/golog"

	"github.com/getlantern/raknet"
	"github.com/getlantern/raknet/sqlitebans"
)

var log = golog.LoggerFor("raknetd")

func main() {
	configFile := flag.String("c", "", "location of the config file, .toml or .yaml")
	ban := flag.String("ban", "", "ban this IP and exit")
	unban := flag.String("unban", "", "unban this IP and exit")
	reason := flag.String("reason", "banned", "reason recorded with -ban")
	flag.Parse()

	cfg := raknet.DefaultConfig()
	if *configFile != "" {
		var err error
		cfg, err = raknet.LoadConfig(*configFile)
		check(err)
	}

	var store *sqlitebans.Store
	if cfg.BanDB != "" {
		var err error
		store, err = sqlitebans.Open(cfg.BanDB)
		check(err)
		defer store.Close()
	}
	if *ban != "" || *unban != "" {
		if store == nil {
			check(fmt.Errorf("ban_db is not configured"))
		}
		if *ban != "" {
			check(store.Ban(*ban, *reason))
		}
		if *unban != "" {
			check(store.Unban(*unban))
		}
		return
	}

	srv := raknet.NewServer(cfg)
	if store != nil {
		srv.UseBanList(store)
	}
	check(srv.Listen())
	log.Debugf("Serving %q on %v", srv.MOTD(), srv.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := srv.Serve(ctx, &echo{srv: srv})
	log.Debugf("Stopped serving: %v", err)
	srv.Close()
}

type echo struct {
	srv *raknet.Server
}

func (e *echo) OnConnect(addr net.Addr, guid uint64) {
	log.Debugf("%v connected with GUID %d", addr, guid)
}

func (e *echo) OnDisconnect(addr net.Addr, guid uint64, reason raknet.DisconnectReason) {
	log.Debugf("%v disconnected: %v", addr, reason)
}

func (e *echo) OnMessage(addr net.Addr, guid uint64, data []byte) {
	log.Tracef("Echoing %v to %v", humanize.Bytes(uint64(len(data))), addr)
	if err := e.srv.SendTo(addr, data); err != nil {
		log.Errorf("Unable to echo to %v: %v", addr, err)
	}
}

func (e *echo) OnError(addr net.Addr, err error) {
	log.Errorf("Error on %v: %v", addr, err)
}

func check(err error) {
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
