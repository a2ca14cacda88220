package net

// Protocol IDs. Testnet nodes run on separate protocols so the two
// networks never mix.
const (
	// ProtocolPrefixMainnet prefixes the DHT protocols. kad-dht appends
	// its own /kad/1.0.0.
	ProtocolPrefixMainnet = "/xmrescrow"
	ProtocolPrefixTestnet = "/xmrescrow/testnet"

	ProtocolAppMainnetOne = "/xmrescrow/app/1.0.0"
	ProtocolAppTestnetOne = "/xmrescrow/app/testnet/1.0.0"

	ProtocolStoreAndForwardMainnet = "/xmrescrow/store-and-forward/0.1.0"
	ProtocolStoreAndForwardTestnet = "/xmrescrow/store-and-forward/testnet/0.1.0"
)
