package main

import (
	"log"
	"os"

	"github.com/cpacia/xmrescrow/cmd"
	"github.com/jessevdk/go-flags"
)

func main() {
	parser := flags.NewParser(nil, flags.Default)

	_, err := parser.AddCommand("start",
		"start the escrow node",
		"The start command starts the escrow node",
		&cmd.Start{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("init",
		"initialize an escrow node",
		"The init command creates and initializes a new data directory and database.",
		&cmd.Init{})
	if err != nil {
		log.Fatal(err)
	}
	_, err = parser.AddCommand("devnet",
		"start a local dev net",
		"The devnet command spins up a local network of mock nodes which share a simulated "+
			"Monero chain and offer book. The last node is the arbitrator and the others are "+
			"funded traders, each with its own API gateway.",
		&cmd.DevNet{})
	if err != nil {
		log.Fatal(err)
	}

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
