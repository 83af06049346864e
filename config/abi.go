package config

// Erc20TransferEventABI is the fragment needed to decode standard token
// Transfer events when scanning for exact-amount deposits.
const Erc20TransferEventABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "address", "name": "from", "type": "address"},
			{"indexed": true, "internalType": "address", "name": "to", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	}
]`

// CustodySubmitTransferABI is the multisig custody entrypoint used to queue a
// payout for execution once the signature threshold is met.
const CustodySubmitTransferABI = `[
	{
		"constant": false,
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "address", "name": "to", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes32", "name": "withdrawalId", "type": "bytes32"}
		],
		"name": "submitTransfer",
		"outputs": [],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`
