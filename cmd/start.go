package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/cpacia/xmrescrow/core"
	"github.com/cpacia/xmrescrow/repo"
	"github.com/cpacia/xmrescrow/version"
	"github.com/fatih/color"
	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("CMD")

// Start is the main entry point for xmrescrow. The options to this
// command are the same as the node config options.
type Start struct {
	repo.Config
}

// Execute starts the escrow node and blocks until it is interrupted.
func (x *Start) Execute(args []string) error {
	cfg, _, err := repo.LoadConfig()
	if err != nil {
		return err
	}

	n, err := core.NewNode(context.Background(), cfg)
	if err != nil {
		return err
	}
	printSplashScreen()
	log.Infof("PeerID: %s", n.Identity())
	if cfg.Arbitrator {
		log.Info("Running as arbitrator")
	}
	if err := n.Start(); err != nil {
		return err
	}
	printSwarmAddrs(n)
	if cfg.GatewayAddr != "" {
		fmt.Printf("Gateway listening on %s\n", cfg.GatewayAddr)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	log.Info("xmrescrow shutting down...")

	// Removing our offers from the book can hang on a bad network.
	// A second interrupt forces the exit.
	done := make(chan struct{})
	go func() {
		n.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-c:
		log.Warning("Forcing shutdown")
	}
	os.Exit(1)
	return nil
}

func printSwarmAddrs(n *core.XMREscrowNode) {
	var lisAddrs []string
	ifaceAddrs, err := n.Host().Network().InterfaceListenAddresses()
	if err != nil {
		log.Errorf("failed to read listening addresses: %s", err)
	}
	for _, addr := range ifaceAddrs {
		lisAddrs = append(lisAddrs, addr.String())
	}
	sort.Strings(lisAddrs)
	for _, addr := range lisAddrs {
		fmt.Printf("Swarm listening on %s\n", addr)
	}
}

func printSplashScreen() {
	orange := color.New(color.FgHiYellow)
	white := color.New(color.FgWhite)

	for i, l := range []string{
		`__  ____  __ ____  `,
		` _____                          `,
		`\ \/ /  \/  |  _ \ `,
		`| ____|___  ___ _ __ _____      __`,
		` \  /| |\/| | |_) |`,
		`|  _| / __|/ __| '__/ _ \ \ /\ / /`,
		` /  \| |  | |  _ < `,
		`| |___\__ \ (__| | | (_) \ V  V / `,
		`/_/\_\_|  |_|_| \_\`,
		`|_____|___/\___|_|  \___/ \_/\_/  `,
	} {
		if i%2 == 0 {
			if _, err := orange.Print(l); err != nil {
				log.Debug(err)
				return
			}
			continue
		}
		if _, err := white.Println(l); err != nil {
			log.Debug(err)
			return
		}
	}

	orange.DisableColor()
	white.DisableColor()
	fmt.Println("")
	fmt.Printf("\nxmrescrow v%s\n", version.String())
}
