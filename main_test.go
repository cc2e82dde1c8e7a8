package main

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"polling-backend/config"
)

type boundContract struct {
	address common.Address
	chainID *big.Int
}

func (c boundContract) Address() common.Address { return c.address }
func (c boundContract) ChainID() *big.Int       { return c.chainID }

func TestChallengeTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Ledger.ContractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

	address, chainID := challengeTarget(cfg, nil)
	assert.Equal(t, cfg.Ledger.ContractAddress, address)
	assert.Equal(t, uint64(31337), chainID)

	live := boundContract{
		address: common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		chainID: big.NewInt(11155111),
	}
	address, chainID = challengeTarget(cfg, live)
	assert.Equal(t, live.address.Hex(), address)
	assert.Equal(t, uint64(11155111), chainID)
}
