package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/cpacia/xmrescrow/core"
)

const devnetFunding uint64 = 100 * 1000000000000

// DevNet runs a local network of mock nodes sharing a simulated chain.
type DevNet struct {
	NumNodes    int `short:"n" long:"numnodes" description:"Number of nodes to run. The last node is the arbitrator." default:"3"`
	GatewayPort int `short:"p" long:"gatewayport" description:"API port of the first node. The other nodes use the following ports." default:"4002"`
}

// Execute starts the devnet and blocks until it is interrupted.
func (x *DevNet) Execute(args []string) error {
	if x.NumNodes < 2 {
		return fmt.Errorf("devnet needs at least 2 nodes")
	}
	mn, err := core.NewMocknet(x.NumNodes)
	if err != nil {
		return err
	}

	gatewayAddrs := make([]string, x.NumNodes)
	for i := range gatewayAddrs {
		gatewayAddrs[i] = fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", x.GatewayPort+i)
	}
	if err := mn.AttachGateways(gatewayAddrs); err != nil {
		return err
	}

	for _, n := range mn.Nodes()[:x.NumNodes-1] {
		if err := mn.FundWallet(n, devnetFunding); err != nil {
			return err
		}
	}
	if err := mn.StartAll(); err != nil {
		return err
	}

	for i, n := range mn.Nodes() {
		role := "trader"
		if n == mn.Arbitrator() {
			role = "arbitrator"
		}
		fmt.Printf("Node %d (%s) %s gateway %s\n", i, role, n.Identity(), gatewayAddrs[i])
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c
	log.Info("Devnet shutting down...")
	mn.TearDown()
	return nil
}
